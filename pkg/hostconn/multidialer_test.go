package hostconn

import (
	"context"
	"errors"
	"testing"
)

type recordingDialer struct {
	opened HostDescriptor
	conn   Conn
	err    error
}

func (d *recordingDialer) Open(ctx context.Context, host HostDescriptor) (Conn, error) {
	d.opened = host
	return d.conn, d.err
}

func TestMultiDialerRoutesLocalVMToLocalVMDialer(t *testing.T) {
	ssh := &recordingDialer{err: errors.New("ssh should not be called")}
	local := &recordingDialer{}
	multi := &MultiDialer{SSH: ssh, LocalVM: local}

	host := HostDescriptor{LocalVMName: "dev-vm-1"}
	if _, err := multi.Open(context.Background(), host); err != nil {
		t.Fatalf("Open: %v", err)
	}

	if local.opened != host {
		t.Fatalf("expected LocalVM dialer to receive the host descriptor, got %+v", local.opened)
	}
	if ssh.opened != (HostDescriptor{}) {
		t.Fatal("expected SSH dialer not to be invoked for a local VM host")
	}
}

func TestMultiDialerRoutesRemoteHostToSSHDialer(t *testing.T) {
	ssh := &recordingDialer{}
	local := &recordingDialer{err: errors.New("local should not be called")}
	multi := &MultiDialer{SSH: ssh, LocalVM: local}

	host := HostDescriptor{SSHHost: "203.0.113.5", SSHPort: 22, SSHUser: "pinacle"}
	if _, err := multi.Open(context.Background(), host); err != nil {
		t.Fatalf("Open: %v", err)
	}

	if ssh.opened != host {
		t.Fatalf("expected SSH dialer to receive the host descriptor, got %+v", ssh.opened)
	}
	if local.opened != (HostDescriptor{}) {
		t.Fatal("expected LocalVM dialer not to be invoked for a remote host")
	}
}
