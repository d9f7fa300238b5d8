package source

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image/jpeg"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"
	"github.com/pion/webrtc/v3"

	"github.com/teslashibe/go-lumina/pkg/camera"
	"github.com/teslashibe/go-lumina/pkg/capture"
)

// Defaults for WebRTC ingest.
const (
	DefaultConnectTimeout = 15 * time.Second
	DefaultDecodeInterval = 100 * time.Millisecond
	maxGOPBytes           = 8 << 20
)

// WebRTC receives H264 video from a producer on a GStreamer webrtcsink
// signalling server and decodes it to JPEG frames. Each Open negotiates a
// new peer connection. The remote stream's format is fixed, so
// ApplyConfiguration only records the configuration.
type WebRTC struct {
	signallingURL  string
	producer       string
	iceServers     []string
	decoder        Decoder
	decodeInterval time.Duration
	connectTimeout time.Duration
	caps           camera.CapabilitySet
	logger         *slog.Logger

	mu     sync.Mutex
	cfg    camera.Config
	peer   *peer
	frames chan decoded

	clock stamper
}

type decoded struct {
	data       []byte
	width      int
	height     int
	brightness float64
	at         time.Time
}

// WebRTCOption configures a WebRTC source.
type WebRTCOption func(*WebRTC)

// WithProducer selects the producer whose meta name matches. Empty takes the first.
func WithProducer(name string) WebRTCOption {
	return func(s *WebRTC) { s.producer = name }
}

// WithICEServers sets STUN/TURN URLs.
func WithICEServers(urls ...string) WebRTCOption {
	return func(s *WebRTC) { s.iceServers = urls }
}

// WithDecoder replaces the ffmpeg decoder.
func WithDecoder(d Decoder) WebRTCOption {
	return func(s *WebRTC) { s.decoder = d }
}

// WithDecodeInterval sets how often buffered video is decoded.
func WithDecodeInterval(d time.Duration) WebRTCOption {
	return func(s *WebRTC) {
		if d > 0 {
			s.decodeInterval = d
		}
	}
}

// WithConnectTimeout bounds Open.
func WithConnectTimeout(d time.Duration) WebRTCOption {
	return func(s *WebRTC) {
		if d > 0 {
			s.connectTimeout = d
		}
	}
}

// WithWebRTCLogger sets the logger.
func WithWebRTCLogger(l *slog.Logger) WebRTCOption {
	return func(s *WebRTC) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewWebRTC creates a source for the signalling server at url (ws://host:8443).
func NewWebRTC(url string, opts ...WebRTCOption) *WebRTC {
	s := &WebRTC{
		signallingURL:  url,
		decoder:        NewFFmpegDecoder(),
		decodeInterval: DefaultDecodeInterval,
		connectTimeout: DefaultConnectTimeout,
		cfg:            camera.DefaultConfig(),
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "source.webrtc")
	return s
}

func (s *WebRTC) Supports(feature camera.Capability) bool { return s.caps.Supports(feature) }

func (s *WebRTC) SupportsFormat(r camera.Resolution, fps int) bool {
	return s.caps.SupportsFormat(r, fps)
}

// ApplyConfiguration records cfg.
func (s *WebRTC) ApplyConfiguration(cfg camera.Config) error {
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
	return nil
}

// Open connects to the signalling server, negotiates a receive-only peer
// connection and waits for the video track.
func (s *WebRTC) Open(ctx context.Context) error {
	s.mu.Lock()
	if s.peer != nil {
		s.mu.Unlock()
		return errors.New("source: webrtc already open")
	}
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, s.connectTimeout)
	defer cancel()

	frames := make(chan decoded, 2)
	p := &peer{
		src:      s,
		frames:   frames,
		gotTrack: make(chan struct{}),
		ended:    make(chan struct{}),
		logger:   s.logger,
	}
	if err := p.connect(ctx); err != nil {
		p.close()
		return fmt.Errorf("source: webrtc connect: %w", err)
	}

	select {
	case <-p.gotTrack:
	case <-p.ended:
		p.close()
		return errors.New("source: webrtc session ended before video arrived")
	case <-ctx.Done():
		p.close()
		return fmt.Errorf("source: waiting for video: %w", ctx.Err())
	}

	s.mu.Lock()
	s.peer, s.frames = p, frames
	s.mu.Unlock()
	s.clock.reset(time.Now())
	s.logger.Info("webrtc video connected", "producer", p.producerID)
	return nil
}

// NextFrame returns the next decoded frame. When the remote ends the session
// it returns capture.ErrSourceExhausted.
func (s *WebRTC) NextFrame(ctx context.Context) (*capture.Frame, error) {
	s.mu.Lock()
	p, frames := s.peer, s.frames
	s.mu.Unlock()
	if p == nil {
		return nil, capture.ErrSourceClosed
	}

	select {
	case d := <-frames:
		brightness := d.brightness
		return &capture.Frame{
			Data:        d.data,
			Format:      capture.FormatJPEG,
			Width:       d.width,
			Height:      d.height,
			Timestamp:   s.clock.next(d.at),
			Orientation: capture.OrientationUp,
			Brightness:  &brightness,
		}, nil
	case <-p.ended:
		if p.closing.Load() {
			return nil, capture.ErrSourceClosed
		}
		return nil, capture.ErrSourceExhausted
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close tears down the peer connection.
func (s *WebRTC) Close() error {
	s.mu.Lock()
	p := s.peer
	s.peer, s.frames = nil, nil
	s.mu.Unlock()
	if p != nil {
		p.close()
	}
	return nil
}

// peer is one signalling session and peer connection.
type peer struct {
	src    *WebRTC
	frames chan decoded
	logger *slog.Logger

	ws   *websocket.Conn
	pc   *webrtc.PeerConnection
	wsMu sync.Mutex

	myPeerID   string
	producerID string
	sessionID  atomic.Value // string

	gotTrack  chan struct{}
	trackOnce sync.Once
	ended     chan struct{}
	endOnce   sync.Once
	closing   atomic.Bool
}

type signalMessage struct {
	Type      string         `json:"type"`
	PeerID    string         `json:"peerId,omitempty"`
	SessionID string         `json:"sessionId,omitempty"`
	Producers []producerInfo `json:"producers,omitempty"`
	SDP       *sdpMessage    `json:"sdp,omitempty"`
	ICE       *iceMessage    `json:"ice,omitempty"`
}

type producerInfo struct {
	ID   string            `json:"id"`
	Meta map[string]string `json:"meta"`
}

type sdpMessage struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

type iceMessage struct {
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdpMid"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex"`
}

func (p *peer) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	ws, _, err := dialer.DialContext(ctx, p.src.signallingURL, nil)
	if err != nil {
		return fmt.Errorf("signalling connect: %w", err)
	}
	p.ws = ws

	if deadline, ok := ctx.Deadline(); ok {
		ws.SetReadDeadline(deadline)
	}

	welcome, err := p.read()
	if err != nil {
		return fmt.Errorf("welcome: %w", err)
	}
	if welcome.Type != "welcome" {
		return fmt.Errorf("expected welcome, got %q", welcome.Type)
	}
	p.myPeerID = welcome.PeerID

	if err := p.write(signalMessage{Type: "list"}); err != nil {
		return err
	}
	list, err := p.read()
	if err != nil {
		return fmt.Errorf("list producers: %w", err)
	}
	p.producerID, err = pickProducer(list.Producers, p.src.producer)
	if err != nil {
		return err
	}

	if err := p.createPeerConnection(); err != nil {
		return fmt.Errorf("peer connection: %w", err)
	}
	if err := p.write(signalMessage{Type: "startSession", PeerID: p.producerID}); err != nil {
		return err
	}

	ws.SetReadDeadline(time.Time{})
	go p.handleSignalling()
	return nil
}

// pickProducer finds the producer whose meta name is want, or the first one
// when want is empty.
func pickProducer(producers []producerInfo, want string) (string, error) {
	if len(producers) == 0 {
		return "", errors.New("no producers available")
	}
	if want == "" {
		return producers[0].ID, nil
	}
	for _, pr := range producers {
		if strings.EqualFold(pr.Meta["name"], want) {
			return pr.ID, nil
		}
	}
	return "", fmt.Errorf("producer %q not found among %d producers", want, len(producers))
}

func (p *peer) read() (signalMessage, error) {
	var msg signalMessage
	_, data, err := p.ws.ReadMessage()
	if err != nil {
		return msg, err
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		return msg, fmt.Errorf("decode signalling message: %w", err)
	}
	return msg, nil
}

func (p *peer) write(msg signalMessage) error {
	p.wsMu.Lock()
	defer p.wsMu.Unlock()
	return p.ws.WriteJSON(msg)
}

func (p *peer) createPeerConnection() error {
	var cfg webrtc.Configuration
	if len(p.src.iceServers) > 0 {
		cfg.ICEServers = []webrtc.ICEServer{{URLs: p.src.iceServers}}
	}
	pc, err := webrtc.NewPeerConnection(cfg)
	if err != nil {
		return err
	}
	p.pc = pc

	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		return err
	}

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if track.Kind() != webrtc.RTPCodecTypeVideo {
			return
		}
		if !strings.EqualFold(track.Codec().MimeType, webrtc.MimeTypeH264) {
			p.logger.Warn("unsupported video codec", "codec", track.Codec().MimeType)
			return
		}
		p.trackOnce.Do(func() {
			close(p.gotTrack)
			go p.readTrack(track)
		})
	})
	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c != nil {
			p.sendCandidate(c)
		}
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		p.logger.Debug("connection state", "state", state.String())
		if state == webrtc.PeerConnectionStateFailed || state == webrtc.PeerConnectionStateClosed {
			p.end()
		}
	})
	return nil
}

func (p *peer) handleSignalling() {
	defer p.end()
	for !p.closing.Load() {
		msg, err := p.read()
		if err != nil {
			if !p.closing.Load() {
				p.logger.Warn("signalling closed", "error", err)
			}
			return
		}
		switch msg.Type {
		case "sessionStarted":
			p.sessionID.Store(msg.SessionID)
		case "peer":
			if err := p.handlePeer(msg); err != nil {
				p.logger.Warn("negotiation failed", "error", err)
			}
		case "endSession":
			return
		}
	}
}

func (p *peer) handlePeer(msg signalMessage) error {
	if msg.SDP != nil && msg.SDP.Type == "offer" {
		offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: msg.SDP.SDP}
		if err := p.pc.SetRemoteDescription(offer); err != nil {
			return fmt.Errorf("set remote description: %w", err)
		}
		answer, err := p.pc.CreateAnswer(nil)
		if err != nil {
			return fmt.Errorf("create answer: %w", err)
		}
		if err := p.pc.SetLocalDescription(answer); err != nil {
			return fmt.Errorf("set local description: %w", err)
		}
		if err := p.write(signalMessage{
			Type:      "peer",
			SessionID: p.session(),
			SDP:       &sdpMessage{Type: answer.Type.String(), SDP: answer.SDP},
		}); err != nil {
			return err
		}
	}
	if msg.ICE != nil {
		return p.pc.AddICECandidate(webrtc.ICECandidateInit{
			Candidate:     msg.ICE.Candidate,
			SDPMid:        msg.ICE.SDPMid,
			SDPMLineIndex: msg.ICE.SDPMLineIndex,
		})
	}
	return nil
}

func (p *peer) session() string {
	id, _ := p.sessionID.Load().(string)
	return id
}

func (p *peer) sendCandidate(c *webrtc.ICECandidate) {
	sid := p.session()
	if sid == "" {
		return
	}
	init := c.ToJSON()
	p.write(signalMessage{
		Type:      "peer",
		SessionID: sid,
		ICE:       &iceMessage{Candidate: init.Candidate, SDPMid: init.SDPMid, SDPMLineIndex: init.SDPMLineIndex},
	})
}

// readTrack depacketizes H264, keeps the current group of pictures and
// decodes it at the configured interval.
func (p *peer) readTrack(track *webrtc.TrackRemote) {
	defer p.end()

	asm := &gopAssembler{maxBytes: maxGOPBytes}
	lastDecode := time.Time{}
	for !p.closing.Load() {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			return
		}
		if !asm.push(pkt) {
			continue
		}
		if time.Since(lastDecode) < p.src.decodeInterval {
			continue
		}
		lastDecode = time.Now()
		p.decode(asm.gop())
	}
}

func (p *peer) decode(gop []byte) {
	if len(gop) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	data, err := p.src.decoder.Decode(ctx, gop)
	if err != nil {
		p.logger.Debug("decode failed", "error", err)
		return
	}
	if len(data) == 0 {
		return
	}
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil || IsBlank(img) {
		return
	}

	d := decoded{
		data:       data,
		width:      img.Bounds().Dx(),
		height:     img.Bounds().Dy(),
		brightness: Brightness(img),
		at:         time.Now(),
	}
	// Keep the newest frames; the oldest waiting frame gives way.
	select {
	case p.frames <- d:
	default:
		select {
		case <-p.frames:
		default:
		}
		select {
		case p.frames <- d:
		default:
		}
	}
}

func (p *peer) end() {
	p.endOnce.Do(func() { close(p.ended) })
}

func (p *peer) close() {
	p.closing.Store(true)
	if p.pc != nil {
		p.pc.Close()
	}
	if p.ws != nil {
		p.ws.Close()
	}
	p.end()
}

// gopAssembler collects RTP payloads into access units and keeps every
// access unit since the last decodable start.
type gopAssembler struct {
	depacketizer codecs.H264Packet
	maxBytes     int
	au           []byte
	buf          []byte
	synced       bool
}

// push adds one packet. It reports whether an access unit was completed.
func (a *gopAssembler) push(pkt *rtp.Packet) bool {
	nal, err := a.depacketizer.Unmarshal(pkt.Payload)
	if err == nil {
		a.au = append(a.au, nal...)
	}
	if !pkt.Marker {
		return false
	}

	au := a.au
	a.au = nil
	if len(au) == 0 {
		return false
	}
	if startsGOP(au) {
		a.buf = a.buf[:0]
		a.synced = true
	}
	if !a.synced {
		return false
	}
	a.buf = append(a.buf, au...)
	if len(a.buf) > a.maxBytes {
		// Drop until the next keyframe.
		a.buf, a.synced = nil, false
		return false
	}
	return true
}

func (a *gopAssembler) gop() []byte {
	return a.buf
}
