package application

import (
	"context"
	"io"

	billing "fixedrate-billing/internal/billing/domain"
)

// CSVReaderSource reads a CSV usage table from an open stream.
func CSVReaderSource(r io.Reader) UsageSource {
	return UsageSourceFunc(func(ctx context.Context) (*billing.UsageTable, error) {
		return billing.LoadUsageTable(r)
	})
}

// CSVFileSource reads a CSV usage table from a local path.
func CSVFileSource(path string) UsageSource {
	return UsageSourceFunc(func(ctx context.Context) (*billing.UsageTable, error) {
		return billing.LoadUsageTableFile(path)
	})
}
