// Package objstore provides store.ObjectStore adapters for MinIO, Amazon S3
// and an in-process map.
//
// The adapters only translate calls and errors; layout, atomic publication
// and retries live in store.ObjectBackend.
//
//	objects, err := objstore.NewMinIO(objstore.MinIOConfig{
//		Endpoint:  "localhost:9000",
//		Bucket:    "results",
//		AccessKey: "minioadmin",
//		SecretKey: "minioadmin",
//	})
//	if err != nil {
//		return err
//	}
//	backend := store.NewObject(objects, store.ObjectConfig{Prefix: "xpersist"})
package objstore
