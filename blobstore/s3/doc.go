// Package s3 implements blobstore.BlobStore on Amazon S3.
//
// Part reads map to ranged GetObject requests, so only the requested bytes
// leave the bucket. The store never writes; snapshot parts are immutable.
package s3
