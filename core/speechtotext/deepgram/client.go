package deepgram

import (
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const defaultListenURL = "wss://api.deepgram.com/v1/listen"

type TranscriptionClient struct {
	apiKey    string
	listenURL string
	model     string
	language  string
	dialer    *websocket.Dialer

	connMu    sync.Mutex
	conn      *websocket.Conn
	lastMsgTs time.Time

	accumulatedTranscript string
	unendedSegment        bool

	cancel func()
	done   chan struct{}
}

type ClientOption func(*TranscriptionClient)

func WithAPIKey(apiKey string) ClientOption {
	return func(c *TranscriptionClient) { c.apiKey = apiKey }
}

// WithListenURL overrides the listen endpoint.
func WithListenURL(listenURL string) ClientOption {
	return func(c *TranscriptionClient) {
		if _, err := url.Parse(listenURL); err == nil {
			c.listenURL = listenURL
		}
	}
}

func WithModel(model string) ClientOption {
	return func(c *TranscriptionClient) { c.model = model }
}

func WithLanguage(language string) ClientOption {
	return func(c *TranscriptionClient) { c.language = language }
}

// NewTranscriptionClient creates a client. The API key defaults to
// DEEPGRAM_API_KEY.
func NewTranscriptionClient(opts ...ClientOption) *TranscriptionClient {
	c := &TranscriptionClient{
		apiKey:    os.Getenv("DEEPGRAM_API_KEY"),
		listenURL: defaultListenURL,
		model:     "nova-3",
		language:  "en-US",
		dialer:    websocket.DefaultDialer,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}
