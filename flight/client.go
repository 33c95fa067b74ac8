package flight

import (
	"context"
	"fmt"

	"github.com/TFMV/findash/table"
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
)

// ---------------------------------------------------------------------
// Flight Client
// ---------------------------------------------------------------------

// Client wraps an Apache Arrow Flight client to fetch filtered rows.
type Client struct {
	client flight.Client
}

// NewClient creates a Flight client using NewClientWithMiddleware. Without
// dial options the connection is insecure.
func NewClient(addr string, opts ...grpc.DialOption) (*Client, error) {
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	client, err := flight.NewClientWithMiddleware(addr, nil, nil, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create flight client: %w", err)
	}
	return &Client{client: client}, nil
}

// Rows runs DoGet for t as username and collects the streamed records into
// one table. An empty username sends no identity.
func (c *Client) Rows(ctx context.Context, t Ticket, username string) (*table.Table, error) {
	ticket, err := encodeTicket(t)
	if err != nil {
		return nil, err
	}
	if username != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, UsernameKey, username)
	}

	stream, err := c.client.DoGet(ctx, ticket)
	if err != nil {
		return nil, fmt.Errorf("DoGet failed: %w", err)
	}
	reader, err := flight.NewRecordReader(stream, ipc.WithAllocator(table.Pool))
	if err != nil {
		return nil, fmt.Errorf("failed to create reader: %w", err)
	}
	defer reader.Release()

	recs, err := readAllRecords(reader)
	defer func() {
		for _, rec := range recs {
			rec.Release()
		}
	}()
	if err != nil {
		return nil, err
	}
	return table.FromRecords(reader.Schema(), recs)
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	return c.client.Close()
}

// readAllRecords pulls all available record batches from a DoGet stream.
func readAllRecords(stream *flight.Reader) ([]arrow.Record, error) {
	var result []arrow.Record
	for stream.Next() {
		rec := stream.Record()
		// Retain the record so it's safe to use after Next() call
		rec.Retain()
		result = append(result, rec)
	}
	if err := stream.Err(); err != nil {
		return result, fmt.Errorf("error reading from flight stream: %w", err)
	}
	return result, nil
}
