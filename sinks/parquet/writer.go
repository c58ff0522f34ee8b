package parquet

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress/snappy"

	"github.com/rexbrahh/amm-arb/events"
)

var ErrWriterDisabled = errors.New("parquet writer disabled: missing configuration")

// Uploader is the subset of the S3 upload manager the writer needs.
type Uploader interface {
	UploadWithContext(ctx aws.Context, input *s3manager.UploadInput, opts ...func(*s3manager.Uploader)) (*s3manager.UploadOutput, error)
}

// Writer buffers execution legs and periodically uploads Parquet journal
// files to S3-compatible storage, partitioned by outcome and date.
type Writer struct {
	cfg Config

	mu        sync.Mutex
	buckets   map[string][]JournalRow
	uploader  Uploader
	lastFlush time.Time
	now       func() time.Time
}

// JournalRow is one executed leg together with its execution outcome.
// Executions aborted before their first leg have LegIndex -1.
type JournalRow struct {
	ExecutionID    string `parquet:"execution_id"`
	RouteKey       string `parquet:"route_key"`
	HomeMint       string `parquet:"home_mint"`
	State          string `parquet:"state"`
	Aborted        bool   `parquet:"aborted"`
	AbortReason    string `parquet:"abort_reason"`
	TradeSize      uint64 `parquet:"trade_size"`
	ExpectedProfit int64  `parquet:"expected_profit"`
	RealizedProfit int64  `parquet:"realized_profit"`
	StartedAtMs    int64  `parquet:"started_at_ms"`
	FinishedAtMs   int64  `parquet:"finished_at_ms"`
	LegIndex       int32  `parquet:"leg_index"`
	Pool           string `parquet:"pool"`
	MintIn         string `parquet:"mint_in"`
	MintOut        string `parquet:"mint_out"`
	AmountIn       uint64 `parquet:"amount_in"`
	ExpectedOut    uint64 `parquet:"expected_out"`
	MinOut         uint64 `parquet:"min_out"`
	ActualOut      uint64 `parquet:"actual_out"`
	WalletDelta    int64  `parquet:"wallet_delta"`
	Signature      string `parquet:"signature"`
	Attempts       int32  `parquet:"attempts"`
}

// NewWriter validates configuration and prepares a Writer backed by S3.
func NewWriter(cfg Config) (*Writer, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" || cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, ErrWriterDisabled
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	awsCfg := &aws.Config{
		Endpoint:         aws.String(cfg.Endpoint),
		Region:           aws.String(cfg.Region),
		S3ForcePathStyle: aws.Bool(true),
		Credentials:      credentials.NewStaticCredentials(cfg.AccessKey, cfg.SecretKey, ""),
	}

	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("create aws session: %w", err)
	}
	return NewWriterWithUploader(cfg, s3manager.NewUploader(sess))
}

// NewWriterWithUploader builds a Writer around an existing uploader.
func NewWriterWithUploader(cfg Config, uploader Uploader) (*Writer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if uploader == nil {
		return nil, errors.New("uploader is required")
	}
	return &Writer{
		cfg:       cfg,
		buckets:   make(map[string][]JournalRow),
		uploader:  uploader,
		lastFlush: time.Now(),
		now:       time.Now,
	}, nil
}

// AppendExecution journals every leg of exec. Executions aborted before their
// first leg produce a single row with LegIndex -1.
func (w *Writer) AppendExecution(ctx context.Context, exec events.Execution) error {
	if exec.ID == "" {
		return errors.New("execution without id")
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	rows := journalRows(exec)
	outcome := exec.State
	if outcome == "" {
		outcome = "unknown"
	}
	bucket := append(w.buckets[outcome], rows...)
	w.buckets[outcome] = bucket

	if len(bucket) >= w.cfg.BatchRows || w.now().Sub(w.lastFlush) >= w.cfg.FlushInterval {
		return w.flushLocked(ctx)
	}
	return nil
}

func journalRows(exec events.Execution) []JournalRow {
	base := JournalRow{
		ExecutionID:    exec.ID,
		RouteKey:       exec.RouteKey,
		HomeMint:       exec.HomeMint,
		State:          exec.State,
		Aborted:        exec.Aborted,
		AbortReason:    exec.AbortReason,
		TradeSize:      exec.TradeSize,
		ExpectedProfit: exec.ExpectedProfit,
		RealizedProfit: exec.RealizedProfit,
		StartedAtMs:    exec.StartedAt.UnixMilli(),
		FinishedAtMs:   exec.FinishedAt.UnixMilli(),
		LegIndex:       -1,
	}
	if len(exec.Legs) == 0 {
		return []JournalRow{base}
	}

	rows := make([]JournalRow, len(exec.Legs))
	for i, leg := range exec.Legs {
		row := base
		row.LegIndex = int32(leg.Index)
		row.Pool = leg.Pool.String()
		row.MintIn = leg.MintIn.String()
		row.MintOut = leg.MintOut.String()
		row.AmountIn = leg.AmountIn
		row.ExpectedOut = leg.ExpectedOut
		row.MinOut = leg.MinOut
		row.ActualOut = leg.ActualOut
		row.WalletDelta = leg.WalletDelta
		row.Signature = leg.Signature
		row.Attempts = int32(leg.Attempts)
		rows[i] = row
	}
	return rows
}

func (w *Writer) Flush(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushLocked(ctx)
}

func (w *Writer) Close() error {
	return w.Flush(context.Background())
}

func (w *Writer) flushLocked(ctx context.Context) error {
	for outcome, rows := range w.buckets {
		if len(rows) == 0 {
			continue
		}
		if err := w.writeBucket(ctx, outcome, rows); err != nil {
			return err
		}
		w.buckets[outcome] = w.buckets[outcome][:0]
	}
	w.lastFlush = w.now()
	return nil
}

func (w *Writer) writeBucket(ctx context.Context, outcome string, rows []JournalRow) error {
	buf := bytes.NewBuffer(nil)

	writer := parquet.NewGenericWriter[JournalRow](buf, parquet.Compression(&snappy.Codec{}))
	if _, err := writer.Write(rows); err != nil {
		return fmt.Errorf("write parquet rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close parquet writer: %w", err)
	}

	_, err := w.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(w.cfg.Bucket),
		Key:         aws.String(w.objectKey(outcome)),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("application/vnd.apache.parquet"),
	}, func(u *s3manager.Uploader) {
		u.RequestOptions = append(u.RequestOptions, request.WithAppendUserAgent("amm-arb-journal"))
	})
	if err != nil {
		return fmt.Errorf("upload parquet to s3: %w", err)
	}
	return nil
}

func (w *Writer) objectKey(outcome string) string {
	now := w.now().UTC()
	prefix := strings.TrimSuffix(w.cfg.Prefix, "/")
	filename := fmt.Sprintf("executions-%d.parquet", now.UnixNano())
	return path.Join(prefix, "state="+outcome, "date="+now.Format("2006-01-02"), filename)
}

// ReadJournal decodes every row of one journal file.
func ReadJournal(r io.ReaderAt, size int64) ([]JournalRow, error) {
	rows, err := parquet.Read[JournalRow](r, size)
	if err != nil {
		return nil, fmt.Errorf("read journal: %w", err)
	}
	return rows, nil
}
