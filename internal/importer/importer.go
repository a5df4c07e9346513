// Package importer streams chat transcript files into the message store,
// batching parsed lines and persisting each batch as one transaction.
package importer

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/chatpulse/chatpulse/internal/auth"
	"github.com/chatpulse/chatpulse/internal/database"
	"github.com/chatpulse/chatpulse/internal/parser"
)

// DefaultBatchSize is the number of parsed messages flushed per transaction
// when no batch size is configured.
const DefaultBatchSize = 1000

// Summary reports the outcome of one import run. TotalUsers is the number
// of distinct phone numbers observed in this run, whether or not the users
// already existed.
type Summary struct {
	TotalMessages int
	TotalUsers    int
}

// Importer reads transcripts line by line and persists them in batches.
type Importer struct {
	store     database.Store
	parser    *parser.Parser
	batchSize int
	logger    *slog.Logger
}

// New creates an Importer. A batchSize <= 0 falls back to DefaultBatchSize.
func New(store database.Store, p *parser.Parser, batchSize int, logger *slog.Logger) *Importer {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Importer{
		store:     store,
		parser:    p,
		batchSize: batchSize,
		logger:    logger.With("component", "importer"),
	}
}

// ImportFile imports the transcript at path. Malformed lines are skipped
// silently; an unreadable file or a failed batch ends the run with an
// error. Batches committed before a failure stay committed.
func (imp *Importer) ImportFile(ctx context.Context, path string) (Summary, error) {
	file, err := os.Open(path)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to open transcript %s: %w", path, err)
	}
	defer file.Close()

	summary, err := imp.importStream(ctx, file)
	if err != nil {
		return summary, err
	}

	imp.logger.InfoContext(ctx, "Transcript import finished",
		"path", path,
		"total_messages", summary.TotalMessages,
		"total_users", summary.TotalUsers)
	return summary, nil
}

func (imp *Importer) importStream(ctx context.Context, r io.Reader) (Summary, error) {
	var (
		summary Summary
		batch   = make([]database.NewMessage, 0, imp.batchSize)
		seen    = make(map[string]struct{})
	)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := imp.store.SaveMessageBatch(ctx, batch); err != nil {
			return fmt.Errorf("failed to flush batch of %d messages: %w", len(batch), err)
		}
		summary.TotalMessages += len(batch)
		imp.logger.DebugContext(ctx, "Batch flushed", "size", len(batch))
		batch = batch[:0]
		return nil
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		parsed, ok := imp.parser.ParseLine(scanner.Text())
		if !ok {
			continue
		}

		// Canonicalize the sender so transcript users line up with
		// authenticated users. Numbers outside the supported country
		// formats keep their raw form.
		phone := parsed.PhoneNumber
		if normalized, err := auth.NormalizePhoneNumber(phone); err == nil {
			phone = normalized
		}

		seen[phone] = struct{}{}
		batch = append(batch, database.NewMessage{
			SenderPhone: phone,
			Content:     parsed.Content,
			Timestamp:   parsed.Timestamp,
			MessageType: parsed.MessageType,
		})

		if len(batch) >= imp.batchSize {
			if err := flush(); err != nil {
				summary.TotalUsers = len(seen)
				return summary, err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		summary.TotalUsers = len(seen)
		return summary, fmt.Errorf("failed to read transcript: %w", err)
	}

	if err := flush(); err != nil {
		summary.TotalUsers = len(seen)
		return summary, err
	}

	summary.TotalUsers = len(seen)
	return summary, nil
}
