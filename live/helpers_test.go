package live

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

const waitFor = 2 * time.Second

type outFrame struct {
	data      string
	closeCode int
	closeText string
}

// fakeServer is a scripted websocket peer. Frames the client sends show up
// on received, frames pushed with send are written back in order.
type fakeServer struct {
	*httptest.Server
	received chan []byte
	outbound chan outFrame
	requests chan *http.Request
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	fs := &fakeServer{
		received: make(chan []byte, 64),
		outbound: make(chan outFrame, 64),
		requests: make(chan *http.Request, 1),
	}
	upgrader := websocket.Upgrader{}
	fs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fs.requests <- r.Clone(r.Context())
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		go func() {
			defer close(fs.received)
			for {
				_, data, err := ws.ReadMessage()
				if err != nil {
					return
				}
				fs.received <- data
			}
		}()
		for f := range fs.outbound {
			if f.closeCode != 0 {
				msg := websocket.FormatCloseMessage(f.closeCode, f.closeText)
				_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
				return
			}
			if err := ws.WriteMessage(websocket.TextMessage, []byte(f.data)); err != nil {
				return
			}
		}
	}))
	t.Cleanup(func() {
		close(fs.outbound)
		fs.Close()
	})
	return fs
}

func (fs *fakeServer) wsURL() string {
	return "ws" + strings.TrimPrefix(fs.URL, "http")
}

func (fs *fakeServer) send(data string) {
	fs.outbound <- outFrame{data: data}
}

func (fs *fakeServer) closeWith(code int, text string) {
	fs.outbound <- outFrame{closeCode: code, closeText: text}
}

func (fs *fakeServer) next(t *testing.T) []byte {
	t.Helper()
	select {
	case data, ok := <-fs.received:
		require.True(t, ok, "connection closed before a frame arrived")
		return data
	case <-time.After(waitFor):
		require.FailNow(t, "no frame received")
		return nil
	}
}

func (fs *fakeServer) request(t *testing.T) *http.Request {
	t.Helper()
	select {
	case r := <-fs.requests:
		return r
	case <-time.After(waitFor):
		require.FailNow(t, "no handshake request")
		return nil
	}
}

type openEvent struct{}

type closeEvent struct{ reason error }

type errorEvent struct{ err error }

// recorder is a Handler that queues every call in arrival order.
type recorder struct {
	events chan any
}

func newRecorder() *recorder {
	return &recorder{events: make(chan any, 64)}
}

func (r *recorder) OnOpen()                { r.events <- openEvent{} }
func (r *recorder) OnMessage(msg *Message) { r.events <- msg }
func (r *recorder) OnClose(reason error)   { r.events <- closeEvent{reason} }
func (r *recorder) OnError(err error)      { r.events <- errorEvent{err} }

func (r *recorder) next(t *testing.T) any {
	t.Helper()
	select {
	case ev := <-r.events:
		return ev
	case <-time.After(waitFor):
		require.FailNow(t, "no handler call")
		return nil
	}
}

func (r *recorder) nextMessage(t *testing.T) *Message {
	t.Helper()
	ev := r.next(t)
	msg, ok := ev.(*Message)
	require.Truef(t, ok, "expected a message, got %T", ev)
	return msg
}
