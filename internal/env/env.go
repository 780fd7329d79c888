package env

import (
	"os"
)

const (
	AWSRegion         = "AWS_REGION"
	AWSID             = "AWS_ID"
	AWSSecret         = "AWS_SECRET"
	AWSToken          = "AWS_TOKEN"
	DynamoDBEndpoint  = "DYNAMODB_ENDPOINT"
	S3Bucket          = "S3_BUCKET"
	S3Endpoint        = "S3_ENDPOINT"
	CustomerSecretKey = "CUSTOMER_SECRET"
	StaffSecretKey    = "STAFF_SECRET"
	AuthRedisURL      = "AUTH_REDIS_URL"
	AuthRedisPass     = "AUTH_REDIS_PASS"
	ChatRedisURL      = "CHAT_REDIS_URL"
	ChatRedisPass     = "CHAT_REDIS_PASS"
	ScratchDir        = "SCRATCH_DIR"
	LogLevel          = "LOG_LEVEL"
	WebUrl            = "WEB_URL"
	QueueSize         = "QUEUE_SIZE"
	QueueWorkers      = "QUEUE_WORKERS"
)

// Required lists the variables the server refuses to start without.
// Validate is called from main rather than init so that packages importing
// env stay usable in tests.
func Required() []string {
	return []string{
		AWSRegion,
		AWSID,
		AWSSecret,
		S3Bucket,
		CustomerSecretKey,
		StaffSecretKey,
		AuthRedisURL,
		ChatRedisURL,
	}
}

func Validate() {
	for _, key := range Required() {
		if os.Getenv(key) == "" {
			panic("env: required environment variable not set: " + key)
		}
	}
}

func Get(key string) string {
	return os.Getenv(key)
}

func GetOrDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

func MustGet(key string) string {
	val := os.Getenv(key)
	if val == "" {
		panic("env: required environment variable not set: " + key)
	}
	return val
}
