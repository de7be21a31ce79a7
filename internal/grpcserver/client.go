package grpcserver

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/types/known/structpb"

	"dpr/internal/api"
	"dpr/internal/pipeline"
	"dpr/internal/storage"
)

// DialOptions configures a client connection. Without Insecure the connection
// uses TLS, verified against CACertPath when set and the system pool otherwise.
type DialOptions struct {
	Insecure    bool
	CACertPath  string
	TLSCertPath string
	TLSKeyPath  string
}

// Dial opens a connection to a Reconstruction server.
func Dial(addr string, o DialOptions) (*grpc.ClientConn, error) {
	var opts []grpc.DialOption
	if o.Insecure {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	} else {
		tlsConfig, err := o.tlsConfig()
		if err != nil {
			return nil, fmt.Errorf("failed to create TLS config: %w", err)
		}
		opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(tlsConfig)))
	}

	opts = append(opts,
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                30 * time.Second,
			Timeout:             5 * time.Second,
			PermitWithoutStream: true,
		}),
		grpc.WithDefaultCallOptions(
			grpc.MaxCallRecvMsgSize(maxMessageSize),
			grpc.MaxCallSendMsgSize(maxMessageSize),
		),
	)
	return grpc.NewClient(addr, opts...)
}

func (o DialOptions) tlsConfig() (*tls.Config, error) {
	config := &tls.Config{MinVersion: tls.VersionTLS12}

	if o.CACertPath != "" {
		caCert, err := os.ReadFile(o.CACertPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA cert: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to append CA cert")
		}
		config.RootCAs = pool
	}

	if o.TLSCertPath != "" && o.TLSKeyPath != "" {
		cert, err := tls.LoadX509KeyPair(o.TLSCertPath, o.TLSKeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load client cert: %w", err)
		}
		config.Certificates = []tls.Certificate{cert}
	}
	return config, nil
}

// Client calls the Reconstruction service.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps an existing connection.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) invoke(ctx context.Context, method string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// Reconstruct calls Reconstruct.
func (c *Client) Reconstruct(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "Reconstruct", in, opts...)
}

// SubmitRun calls SubmitRun.
func (c *Client) SubmitRun(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "SubmitRun", in, opts...)
}

// ListRuns calls ListRuns.
func (c *Client) ListRuns(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "ListRuns", in, opts...)
}

// Submit queues req on the server and returns the accepted job.
func (c *Client) Submit(ctx context.Context, req api.SubmitRequest) (pipeline.Job, error) {
	in, err := toStruct(req)
	if err != nil {
		return pipeline.Job{}, err
	}
	out, err := c.SubmitRun(ctx, in)
	if err != nil {
		return pipeline.Job{}, err
	}
	var job pipeline.Job
	if err := fromStruct(out, &job); err != nil {
		return pipeline.Job{}, fmt.Errorf("decode job: %w", err)
	}
	return job, nil
}

// Runs returns up to limit recent runs, newest first.
func (c *Client) Runs(ctx context.Context, limit int) ([]storage.RunRecord, error) {
	in := &structpb.Struct{Fields: map[string]*structpb.Value{}}
	if limit > 0 {
		in.Fields["limit"] = structpb.NewNumberValue(float64(limit))
	}
	out, err := c.ListRuns(ctx, in)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Runs []storage.RunRecord `json:"runs"`
	}
	if err := fromStruct(out, &resp); err != nil {
		return nil, fmt.Errorf("decode runs: %w", err)
	}
	return resp.Runs, nil
}
