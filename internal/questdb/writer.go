package questdb

import (
	"context"
	"fmt"
	"time"

	qdb "github.com/questdb/go-questdb-client/v4"
)

// RowWriter streams sample points for one connection.
type RowWriter interface {
	WriteRow(ctx context.Context, table, file string, amplitude int16, tsNanos int64) error
	Flush(ctx context.Context) error
	Close(ctx context.Context) error
}

// Dialer opens a fresh RowWriter. Each ingestion worker dials its own.
type Dialer func(ctx context.Context) (RowWriter, error)

// ILPWriter writes rows over the InfluxDB line protocol:
//
//	<table>,file=<file> amplitude=<v>i <ts>
type ILPWriter struct {
	sender qdb.LineSender
}

// NewILPDialer returns a Dialer for a line sender configuration string such
// as "tcp::addr=localhost:9009;".
func NewILPDialer(conf string) Dialer {
	return func(ctx context.Context) (RowWriter, error) {
		sender, err := qdb.LineSenderFromConf(ctx, conf)
		if err != nil {
			return nil, fmt.Errorf("questdb ilp connect: %w", err)
		}
		return &ILPWriter{sender: sender}, nil
	}
}

func (w *ILPWriter) WriteRow(ctx context.Context, table, file string, amplitude int16, tsNanos int64) error {
	return w.sender.
		Table(table).
		Symbol("file", file).
		Int64Column("amplitude", int64(amplitude)).
		At(ctx, time.Unix(0, tsNanos))
}

func (w *ILPWriter) Flush(ctx context.Context) error {
	return w.sender.Flush(ctx)
}

func (w *ILPWriter) Close(ctx context.Context) error {
	return w.sender.Close(ctx)
}
