// Package config builds a Cache from a YAML description of the backend,
// serializers, policy, locking and telemetry.
//
//	cfg, err := config.Load(ctx, "/etc/xpersist.yaml")
//	if err != nil {
//		return err
//	}
//	c, err := config.Open(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer c.Close()
//
// Backends "local", "memory", "minio" and "s3" are built in; RegisterBackend
// adds others.
package config
