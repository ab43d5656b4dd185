package geyser

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/metadata"
)

// SubscribeMethod is the full gRPC method name of the Geyser subscription.
const SubscribeMethod = "/geyser.Geyser/Subscribe"

var subscribeStreamDesc = &grpc.StreamDesc{
	StreamName:    "Subscribe",
	ServerStreams: true,
	ClientStreams: true,
}

// Stream is an open Subscribe call.
//
// Send and Recv may be called from different goroutines, but Send must not
// be called concurrently with itself. Recv returns io.EOF once the server
// ends the stream cleanly.
type Stream interface {
	Send(req *SubscribeRequest) error
	Recv() (*Frame, error)
	Close() error
}

// DialFunc opens a Subscribe stream. Dial is the production implementation.
type DialFunc func(ctx context.Context, config Config) (Stream, error)

// Dial connects to the configured endpoint and opens the Subscribe stream.
// The stream lives until ctx is cancelled or Close is called.
func Dial(ctx context.Context, config Config) (Stream, error) {
	config = config.WithDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}

	target, useTLS, err := config.Target()
	if err != nil {
		return nil, err
	}

	opts := []grpc.DialOption{
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                config.KeepaliveTime,
			Timeout:             config.KeepaliveTimeout,
			PermitWithoutStream: true,
		}),
		grpc.WithDefaultCallOptions(
			grpc.MaxCallRecvMsgSize(config.MaxMessageSize),
			grpc.MaxCallSendMsgSize(config.MaxMessageSize),
		),
	}

	if useTLS {
		opts = append(opts, grpc.WithTransportCredentials(
			credentials.NewTLS(&tls.Config{
				MinVersion: tls.VersionTLS12,
			}),
		))
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}

	if token := config.ExpandedToken(); token != "" {
		opts = append(opts, grpc.WithPerRPCCredentials(&tokenAuth{
			header:     config.AuthHeader,
			token:      token,
			requireTLS: useTLS,
		}))
	}

	opts = append(opts, config.DialOptions...)

	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC client for %s: %w", target, err)
	}

	callOpts := []grpc.CallOption{grpc.ForceCodec(Codec{})}
	switch config.Compression {
	case CompressionZstd:
		RegisterZstdCompressor()
		callOpts = append(callOpts, grpc.UseCompressor(CompressionZstd))
	case CompressionGzip:
		callOpts = append(callOpts, grpc.UseCompressor(CompressionGzip))
	}

	streamCtx, cancel := context.WithCancel(ctx)
	if len(config.Headers) > 0 {
		streamCtx = metadata.NewOutgoingContext(streamCtx, metadata.New(config.Headers))
	}

	stream, err := conn.NewStream(streamCtx, subscribeStreamDesc, SubscribeMethod, callOpts...)
	if err != nil {
		cancel()
		conn.Close()
		return nil, fmt.Errorf("failed to open subscribe stream: %w", err)
	}

	// The server answers with response headers once it accepts the call. A
	// rejected call (bad token, unknown method) ends without them, and its
	// status is read back from the stream.
	if md, _ := stream.Header(); md == nil {
		err := stream.RecvMsg(&Frame{})
		cancel()
		conn.Close()
		if err == nil || errors.Is(err, io.EOF) {
			return nil, errors.New("subscribe stream ended before it was accepted")
		}
		return nil, fmt.Errorf("subscribe stream rejected: %w", err)
	}

	return &grpcStream{conn: conn, stream: stream, cancel: cancel}, nil
}

// grpcStream adapts a raw grpc.ClientStream to Stream.
type grpcStream struct {
	conn      *grpc.ClientConn
	stream    grpc.ClientStream
	cancel    context.CancelFunc
	closeOnce sync.Once
	closeErr  error

	// recvMu serializes RecvMsg between Recv and the status lookup in Send.
	recvMu  sync.Mutex
	pending []*Frame
	recvErr error
}

// Send writes req. Once the server has ended the call SendMsg only reports
// io.EOF, so the rest of the stream is read ahead to reach the call's status.
// Frames read this way are kept for Recv.
func (s *grpcStream) Send(req *SubscribeRequest) error {
	err := s.stream.SendMsg(req)
	if !errors.Is(err, io.EOF) {
		return err
	}

	s.recvMu.Lock()
	defer s.recvMu.Unlock()
	for s.recvErr == nil {
		frame := &Frame{}
		if err := s.stream.RecvMsg(frame); err != nil {
			s.recvErr = err
			break
		}
		s.pending = append(s.pending, frame)
	}
	if errors.Is(s.recvErr, io.EOF) {
		return fmt.Errorf("subscribe stream closed by server: %w", s.recvErr)
	}
	return s.recvErr
}

func (s *grpcStream) Recv() (*Frame, error) {
	s.recvMu.Lock()
	defer s.recvMu.Unlock()
	if len(s.pending) > 0 {
		frame := s.pending[0]
		s.pending = s.pending[1:]
		return frame, nil
	}
	if s.recvErr != nil {
		return nil, s.recvErr
	}

	frame := &Frame{}
	if err := s.stream.RecvMsg(frame); err != nil {
		s.recvErr = err
		return nil, err
	}
	return frame, nil
}

// Close half-closes the stream, cancels the call and closes the connection.
func (s *grpcStream) Close() error {
	s.closeOnce.Do(func() {
		_ = s.stream.CloseSend()
		s.cancel()
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}

// tokenAuth implements grpc.PerRPCCredentials for token authentication.
type tokenAuth struct {
	header     string
	token      string
	requireTLS bool
}

// GetRequestMetadata returns the authentication metadata.
func (t *tokenAuth) GetRequestMetadata(ctx context.Context, uri ...string) (map[string]string, error) {
	return map[string]string{
		t.header: t.token,
	}, nil
}

// RequireTransportSecurity returns whether TLS is required.
func (t *tokenAuth) RequireTransportSecurity() bool {
	return t.requireTLS
}
