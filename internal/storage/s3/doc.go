/*
Package s3 connects sharefs to Amazon S3 and S3-compatible object stores.

A connection profile maps onto the SDK as follows:

	Dial        static credentials (username = access key id, password = secret)
	OpenShare   HeadBucket on the profile's share (the bucket name)
	Resolve     HeadObject; in a write mode a missing key resolves to an empty object
	OpenAccessor ranged GetObject reads, or a streaming upload for writes

Reads are stateless ranged GETs, so every ReadAt is a fresh request. Writes
must arrive in order: they are streamed through an io.Pipe into the
feature/s3/manager Uploader, which switches to a multipart upload once the
data exceeds one part. The object is committed when the accessor is closed.
A write that does not continue the previous one fails with an IO error.

Hosts other than s3.amazonaws.com are treated as custom endpoints (MinIO,
Ceph RGW and similar) and use path-style addressing unless the profile sets
path_style=false.
*/
package s3
