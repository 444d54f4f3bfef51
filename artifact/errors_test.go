package artifact

import (
	"context"
	"errors"
	"testing"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		msg  string
		want error
	}{
		{msg: "context deadline exceeded", want: ErrTimeout},
		{msg: "connection timeout after 30s", want: ErrTimeout},
		{msg: "AccessDenied: you do not have access", want: ErrAccessDenied},
		{msg: "received status 403", want: ErrAccessDenied},
		{msg: "permission denied for /data/artifacts", want: ErrPermissionDenied},
		{msg: "write /data: no space left on device", want: ErrDiskFull},
		{msg: "quota exceeded for user", want: ErrDiskFull},
		{msg: "open /missing: no such file or directory", want: ErrNotFound},
		{msg: "NoSuchKey: The specified key does not exist", want: ErrNotFound},
		{msg: "storage: object doesn't exist", want: ErrNotFound},
		{msg: "SlowDown: please reduce request rate", want: ErrThrottled},
		{msg: "received status 429", want: ErrThrottled},
		{msg: "ExpiredToken: the security token has expired", want: ErrAuth},
		{msg: "received status 401", want: ErrAuth},
		{msg: "dial tcp 127.0.0.1:9000: connection refused", want: ErrNetwork},
		{msg: "DNS lookup failed for bucket.s3.amazonaws.com", want: ErrNetwork},
		{msg: "something completely unexpected happened", want: ErrUnclassified},
	}
	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			if got := classifyError(errors.New(tt.msg)); !errors.Is(got, tt.want) {
				t.Errorf("classifyError(%q) = %v, want %v", tt.msg, got, tt.want)
			}
		})
	}
}

func TestClassifyError_TimeoutInterface(t *testing.T) {
	if got := classifyError(context.DeadlineExceeded); !errors.Is(got, ErrTimeout) {
		t.Errorf("classifyError(DeadlineExceeded) = %v, want ErrTimeout", got)
	}
}

func TestWrapError(t *testing.T) {
	if wrapError("create", "k", nil) != nil {
		t.Fatal("wrapError(nil) must be nil")
	}

	cause := errors.New("NoSuchKey: gone")
	err := wrapError("open", "1/2/x/job.log", cause)

	var se *StorageError
	if !errors.As(err, &se) {
		t.Fatalf("expected *StorageError, got %T", err)
	}
	if se.Op != "open" || se.Key != "1/2/x/job.log" {
		t.Errorf("unexpected op/key: %q %q", se.Op, se.Key)
	}
	if !errors.Is(err, ErrNotFound) || !errors.Is(err, cause) {
		t.Error("wrapped error must match both the kind and the cause")
	}
	if wrapError("delete", "other", err) != err {
		t.Error("an already classified error must not be rewrapped")
	}
}
