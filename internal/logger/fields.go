package logger

// Standard field keys for structured logging.
// Use these keys consistently across all log statements so that logs from the
// ingress, the outbox dispatcher, and the task processor can be correlated
// and queried together.
const (
	// Request correlation
	KeyRequestID = "request_id" // HTTP request ID (chi middleware)
	KeyClientIP  = "client_ip"  // Remote client address

	// Pipeline identity
	KeyTaskID   = "task_id"   // Task being uploaded or processed
	KeyEventID  = "event_id"  // Outbox event identifier
	KeyUploadID = "upload_id" // Client-generated chunked-upload identifier
	KeyWorkerID = "worker_id" // Claim lease owner (<host>-<pid>)

	// Bus
	KeyExchange   = "exchange"    // AMQP exchange name
	KeyQueue      = "queue"       // AMQP queue name
	KeyRoutingKey = "routing_key" // AMQP routing key
	KeyEventName  = "event_name"  // Envelope discriminator (task.created.event, ...)

	// Object store
	KeyBucket   = "bucket"    // S3 bucket name
	KeyFilePath = "file_path" // Object key of the assembled artifact
	KeyPart     = "part"      // Multipart part number

	// Processing
	KeyRow      = "row"      // 1-indexed spreadsheet row under report
	KeyRowCount = "rows"     // Number of rows processed
	KeyErrors   = "errors"   // Number of row errors collected
	KeyStatus   = "status"   // Task or event status
	KeyBatch    = "batch"    // Claimed batch size
	KeyDuration = "duration" // Operation duration (ms)

	// Error reporting
	KeyError = "error" // Error message
)
