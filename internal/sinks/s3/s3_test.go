package s3

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
)

func mustParseURL(s string) *url.URL {
	u, err := url.Parse(s)
	if err != nil {
		panic(err)
	}
	return u
}

func TestGetBucketInfoAWS(t *testing.T) {
	host, bucket, prefix := getBucketInfo(mustParseURL("s3://crud6-events"))
	assert.Equal(t, "", host)
	assert.Equal(t, "crud6-events", bucket)
	assert.Equal(t, "", prefix)

	host, bucket, prefix = getBucketInfo(mustParseURL("s3://crud6-events?region=us-east-1"))
	assert.Equal(t, "", host)
	assert.Equal(t, "crud6-events", bucket)
	assert.Equal(t, "", prefix)
}

func TestGetBucketInfoMinio(t *testing.T) {
	host, bucket, prefix := getBucketInfo(mustParseURL("s3://localhost:9000/crud6-events?access-key-id=minioadmin&secret-access-key=minioadmin"))
	assert.Equal(t, "localhost:9000", host)
	assert.Equal(t, "crud6-events", bucket)
	assert.Equal(t, "", prefix)

	host, bucket, prefix = getBucketInfo(mustParseURL("s3://localhost:4566/crud6-events/changes"))
	assert.Equal(t, "localhost:4566", host)
	assert.Equal(t, "crud6-events", bucket)
	assert.Equal(t, "changes/", prefix)
}

func TestGetBucketInfoPrefix(t *testing.T) {
	host, bucket, prefix := getBucketInfo(mustParseURL("s3://minio.internal:9000/crud6-events/changes/prod"))
	assert.Equal(t, "minio.internal:9000", host)
	assert.Equal(t, "crud6-events", bucket)
	assert.Equal(t, "changes/prod/", prefix)

	// a trailing slash is already normalized
	host, bucket, prefix = getBucketInfo(mustParseURL("s3://minio.internal:9000/crud6-events/changes/prod/"))
	assert.Equal(t, "minio.internal:9000", host)
	assert.Equal(t, "crud6-events", bucket)
	assert.Equal(t, "changes/prod/", prefix)
}
