// Package minio implements blobstore.BlobStore on MinIO and other
// S3-compatible object stores using ranged GetObject requests.
package minio
