package endpoint

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/textproto"
	"path"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestBaseNamesNormalizesNLST(t *testing.T) {
	got := baseNames([]string{"/pub/a.txt", "b.dat", "sub/dir", ".", "..", "/"})
	want := []string{"a.txt", "b.dat", "dir"}
	if len(got) != len(want) {
		t.Fatalf("unexpected names %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("names[%d]=%s want %s", i, got[i], want[i])
		}
	}
}

func TestMapFTPError(t *testing.T) {
	perm := &textproto.Error{Code: 550, Msg: "Permission denied."}
	if !errors.Is(mapFTPError(perm), ErrUnavailable) {
		t.Fatalf("550 should map to ErrUnavailable")
	}
	other := &textproto.Error{Code: 421, Msg: "Timeout."}
	if errors.Is(mapFTPError(other), ErrUnavailable) {
		t.Fatalf("421 should not map to ErrUnavailable")
	}
}

// scriptedFTP 是一个只实现镜像所需命令的最小 FTP 服务端
type scriptedFTP struct {
	ln    net.Listener
	dirs  map[string]bool
	files map[string]string
	// stall 中的文件只发送一半数据，然后等待客户端关闭数据连接
	stall map[string]bool

	mu   sync.Mutex
	cmds []string
}

func newScriptedFTP(t *testing.T, dirs []string, files map[string]string, stall ...string) *scriptedFTP {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := &scriptedFTP{ln: ln, dirs: map[string]bool{"/": true}, files: files, stall: map[string]bool{}}
	for _, d := range dirs {
		s.dirs[d] = true
	}
	for _, p := range stall {
		s.stall[p] = true
	}
	t.Cleanup(func() { _ = ln.Close() })
	go s.serve()
	return s
}

func (s *scriptedFTP) endpoint() Endpoint {
	addr := s.ln.Addr().(*net.TCPAddr)
	return Endpoint{
		Type:     EndpointRemote,
		Host:     "127.0.0.1",
		Port:     addr.Port,
		User:     "user",
		Password: "secret",
		Passive:  true,
		Timeout:  5 * time.Second,
	}
}

func (s *scriptedFTP) commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.cmds...)
}

func (s *scriptedFTP) serve() {
	for {
		c, err := s.ln.Accept()
		if err != nil {
			return
		}
		go s.handle(c)
	}
}

func (s *scriptedFTP) handle(c net.Conn) {
	defer c.Close()
	tp := textproto.NewConn(c)
	reply := func(format string, args ...any) { _ = tp.PrintfLine(format, args...) }
	cwd := "/"
	var data net.Listener
	defer func() {
		if data != nil {
			_ = data.Close()
		}
	}()

	reply("220 ready")
	for {
		line, err := tp.ReadLine()
		if err != nil {
			return
		}
		cmd, arg, _ := strings.Cut(line, " ")
		cmd = strings.ToUpper(cmd)
		s.mu.Lock()
		s.cmds = append(s.cmds, line)
		s.mu.Unlock()

		target := arg
		if !path.IsAbs(target) {
			target = path.Join(cwd, target)
		}
		target = path.Clean(target)

		switch cmd {
		case "USER":
			reply("331 password required")
		case "PASS":
			reply("230 logged in")
		case "FEAT":
			reply("211 End")
		case "TYPE", "OPTS":
			reply("200 ok")
		case "PWD":
			reply(`257 "%s" is current directory`, cwd)
		case "CWD":
			if s.dirs[target] {
				cwd = target
				reply("250 directory changed")
			} else {
				reply("550 %s: no such directory", arg)
			}
		case "SIZE":
			content, ok := s.files[target]
			if !ok {
				reply("550 %s: not found", arg)
				continue
			}
			reply("213 %d", len(content))
		case "EPSV":
			if data != nil {
				_ = data.Close()
			}
			data, err = net.Listen("tcp", "127.0.0.1:0")
			if err != nil {
				reply("425 cannot open data connection")
				continue
			}
			reply("229 Entering Extended Passive Mode (|||%d|)", data.Addr().(*net.TCPAddr).Port)
		case "RETR":
			s.retrieve(reply, data, target)
			data = nil
		case "QUIT":
			reply("221 bye")
			return
		default:
			reply("502 %s not implemented", cmd)
		}
	}
}

func (s *scriptedFTP) retrieve(reply func(string, ...any), data net.Listener, p string) {
	if data == nil {
		reply("425 use EPSV first")
		return
	}
	defer data.Close()
	dc, err := data.Accept()
	if err != nil {
		reply("425 no data connection")
		return
	}
	content, ok := s.files[p]
	if !ok {
		_ = dc.Close()
		reply("550 not found")
		return
	}
	reply("150 opening data connection")
	if s.stall[p] {
		_, _ = io.WriteString(dc, content[:len(content)/2])
		_, _ = io.Copy(io.Discard, dc)
		_ = dc.Close()
		reply("426 transfer aborted")
		return
	}
	_, _ = io.WriteString(dc, content)
	_ = dc.Close()
	reply("226 transfer complete")
}

func dialScripted(t *testing.T, s *scriptedFTP) *RemoteFS {
	t.Helper()
	r, err := DialRemote(context.Background(), s.endpoint())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestRemoteProbeDirRestoresCwd(t *testing.T) {
	s := newScriptedFTP(t, []string{"/pub", "/pub/sub"}, map[string]string{"/pub/a.txt": "hello"})
	r := dialScripted(t, s)
	if err := r.ChangeDir("/pub"); err != nil {
		t.Fatalf("cwd: %v", err)
	}

	ok, err := r.ProbeDir("/pub/sub")
	if err != nil || !ok {
		t.Fatalf("ProbeDir(sub) = %v, %v; want directory", ok, err)
	}
	if cwd, _ := r.CurrentDir(); cwd != "/pub" {
		t.Fatalf("cwd after ProbeDir = %s, want /pub", cwd)
	}

	// 550 表示不是目录，按文件处理且不报错
	ok, err = r.ProbeDir("/pub/a.txt")
	if err != nil || ok {
		t.Fatalf("ProbeDir(file) = %v, %v; want file candidate", ok, err)
	}
	if cwd, _ := r.CurrentDir(); cwd != "/pub" {
		t.Fatalf("cwd after failed ProbeDir = %s, want /pub", cwd)
	}

	cmds := strings.Join(s.commands(), "\n")
	if !strings.Contains(cmds, "CWD /pub/sub\nCWD /pub") {
		t.Fatalf("ProbeDir did not restore cwd, commands:\n%s", cmds)
	}
}

func TestRemoteChangeDirUnavailable(t *testing.T) {
	s := newScriptedFTP(t, nil, nil)
	r := dialScripted(t, s)
	err := r.ChangeDir("/nope")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
}

func TestRemoteSizeAndRetrieve(t *testing.T) {
	s := newScriptedFTP(t, []string{"/pub"}, map[string]string{"/pub/a.txt": "hello world"})
	r := dialScripted(t, s)

	size, err := r.Size("/pub/a.txt")
	if err != nil || size != 11 {
		t.Fatalf("size = %d, %v", size, err)
	}
	if _, err := r.Size("/pub/missing.txt"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("missing size err = %v", err)
	}

	var buf bytes.Buffer
	n, err := r.Retrieve(context.Background(), "/pub/a.txt", &buf)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if n != 11 || buf.String() != "hello world" {
		t.Fatalf("retrieved %d bytes %q", n, buf.String())
	}
}

// cancelWriter 收到第一块数据后取消 ctx
type cancelWriter struct {
	cancel context.CancelFunc
	buf    bytes.Buffer
}

func (w *cancelWriter) Write(p []byte) (int, error) {
	w.cancel()
	return w.buf.Write(p)
}

func TestRemoteRetrieveHonorsCancel(t *testing.T) {
	content := strings.Repeat("0123456789", 100)
	s := newScriptedFTP(t, []string{"/pub"}, map[string]string{"/pub/big.bin": content}, "/pub/big.bin")
	r := dialScripted(t, s)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w := &cancelWriter{cancel: cancel}
	done := make(chan error, 1)
	go func() {
		_, err := r.Retrieve(ctx, "/pub/big.bin", w)
		done <- err
	}()

	select {
	case err := <-done:
		if err == nil {
			t.Fatalf("retrieve should fail after cancel")
		}
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("err = %v, want cancellation", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("retrieve did not stop after cancel")
	}
	if w.buf.Len() == 0 || w.buf.Len() >= len(content) {
		t.Fatalf("received %d bytes, want a partial transfer", w.buf.Len())
	}
}
