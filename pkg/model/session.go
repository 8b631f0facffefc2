package model

// UploadedPart records one committed multipart part. The field names match
// the S3 CompletedPart shape so sessions read back from the cache can be fed
// straight into the completion call.
type UploadedPart struct {
	PartNumber int32  `json:"PartNumber"`
	ETag       string `json:"ETag"`
}

// UploadSession is the ephemeral, cache-resident state of an in-flight
// chunked upload. It lives from the first chunk until the terminal chunk
// completes the multipart upload; deletion afterwards is best-effort and the
// cache TTL bounds any leak.
type UploadSession struct {
	S3UploadID       string         `json:"s3UploadId"`
	BucketFilePath   string         `json:"bucketFilePath"`
	TotalChunks      int            `json:"totalChunks"`
	OriginalFileName string         `json:"originalFileName"`
	MimeType         string         `json:"mimeType"`
	UploadedParts    []UploadedPart `json:"uploadedParts"`
}
