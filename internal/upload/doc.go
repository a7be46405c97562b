// Package upload delivers saved recording archives to remote storage, either
// as a multipart POST to an HTTP endpoint or as an object in an S3 bucket.
package upload
