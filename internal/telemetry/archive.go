package telemetry

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/linkedin/goavro/v2"

	"github.com/segw-project/segw/internal/smlrouter"
	"github.com/segw-project/segw/pkg/log"
)

// profileRowSchema is the Avro record schema for one archived profile row:
// a time index plus the flattened OBIS/value/type/scaler/unit tuples the
// push scheduler read out of the relational mirror (grounded on
// internal/memorystore/avroCheckpoint.go's generateSchema/generateRecord
// pair, which likewise derives one flat record per sample rather than a
// nested document).
const profileRowSchema = `{
	"type": "record",
	"name": "ProfileRow",
	"fields": [
		{"name": "time_index", "type": "long"},
		{"name": "obis", "type": "string"},
		{"name": "value", "type": "string"},
		{"name": "scaler", "type": "int"},
		{"name": "unit", "type": "int"}
	]
}`

// S3Config names the cold-storage bucket push payloads are archived to.
// Mirrors pkg/archive/parquet/target.go's S3TargetConfig.
type S3Config struct {
	Endpoint     string
	Bucket       string
	AccessKey    string
	SecretKey    string
	Region       string
	UsePathStyle bool
}

// Archiver Avro-encodes delivered push payloads and uploads them to S3
// under <srvId>/<profileObis>/<lowerBound>-<upperBound>.avro. A nil client
// makes every Archive call a no-op: archival is best-effort and must never
// hold up the push scheduler's low-water-mark advance.
type Archiver struct {
	client *s3.Client
	bucket string
	codec  *goavro.Codec
}

// NewArchiver dials S3 per cfg. An empty bucket disables archival.
func NewArchiver(cfg S3Config) *Archiver {
	if cfg.Bucket == "" {
		log.Info("telemetry: no S3 bucket configured, push archival disabled")
		return &Archiver{}
	}

	codec, err := goavro.NewCodec(profileRowSchema)
	if err != nil {
		log.Warnf("telemetry: build avro codec: %v", err)
		return &Archiver{}
	}

	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		),
	)
	if err != nil {
		log.Warnf("telemetry: load AWS config, push archival disabled: %v", err)
		return &Archiver{}
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})
	return &Archiver{client: client, bucket: cfg.Bucket, codec: codec}
}

// ArchivePush Avro-encodes one delivered push window's rows and uploads
// them as a single OCF object. Any failure is logged and swallowed, so
// the push scheduler, which calls this before advancing its low-water
// mark, advances the mark regardless of the upload outcome.
func (a *Archiver) ArchivePush(srvID, profileObis string, lowerBound, upperBound uint64, rows []smlrouter.ProfileRow) {
	if a.client == nil {
		return
	}
	data, err := a.encodeRows(rows)
	if err != nil {
		log.Warnf("telemetry: avro-encode push archive for %s: %v", srvID, err)
		return
	}
	key := fmt.Sprintf("%s/%s/%d-%d.avro", srvID, profileObis, lowerBound, upperBound)
	if _, err := a.client.PutObject(context.Background(), &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
	}); err != nil {
		log.Warnf("telemetry: upload push archive %q: %v", key, err)
	}
}

// encodeRows writes one Avro Object Container File holding one record per
// row (grounded on avroCheckpoint.go's goavro.NewOCFWriter/Append pair).
func (a *Archiver) encodeRows(rows []smlrouter.ProfileRow) ([]byte, error) {
	var buf bytes.Buffer
	writer, err := goavro.NewOCFWriter(goavro.OCFConfig{
		W:               &buf,
		Codec:           a.codec,
		CompressionName: goavro.CompressionDeflateLabel,
	})
	if err != nil {
		return nil, fmt.Errorf("create OCF writer: %w", err)
	}

	var records []map[string]any
	for _, row := range rows {
		ts := row.TimeIndex.Unix()
		for _, v := range row.Values {
			records = append(records, map[string]any{
				"time_index": ts,
				"obis":       v.OBIS.Dotted(),
				"value":      v.Value,
				"scaler":     int32(v.Scaler),
				"unit":       int32(v.Unit),
			})
		}
	}
	if err := writer.Append(records); err != nil {
		return nil, fmt.Errorf("append records: %w", err)
	}
	return buf.Bytes(), nil
}
