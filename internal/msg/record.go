package msg

// Record represents a consumed Kafka record
type Record struct {
	Topic     string
	Key       string
	Value     []byte
	Headers   map[string]string
	Partition int32
	Offset    int64
	Timestamp int64
}

// Header names used on alert and reply records.
const (
	HeaderContentType = "content-type"
	HeaderFilename    = "filename"
	HeaderEdited      = "edited"
)
