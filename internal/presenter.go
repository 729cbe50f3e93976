package internal

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/centrifugal/centrifuge"
	"github.com/ogero/stremio-webstream/internal/common"
	"github.com/ogero/stremio-webstream/internal/session"
	"github.com/ogero/stremio-webstream/pkg/stremio"
)

// Event types published on a session channel.
const (
	EventRender         = "render"
	EventStatus         = "status"
	EventLoading        = "loading"
	EventMessage        = "message"
	EventMessageRemoved = "messageRemoved"
	EventVideo          = "video"
)

// Event is the envelope of everything published on a session channel.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// StatusView is the connection status indicator state.
type StatusView struct {
	Status session.Status `json:"status"`
	Text   string         `json:"text"`
}

// Snapshot is the full view state of a session, used by pages to re-sync.
type Snapshot struct {
	ID       string            `json:"id"`
	Channel  string            `json:"channel"`
	Status   StatusView        `json:"status"`
	Loading  bool              `json:"loading"`
	Cards    []Card            `json:"cards"`
	Messages []session.Message `json:"messages"`
	Video    *session.Video    `json:"video,omitempty"`
}

type publisher interface {
	Publish(channel string, data []byte, opts ...centrifuge.PublishOption) (centrifuge.PublishResult, error)
}

// channelPresenter implements session.Presenter by publishing events on a centrifuge channel.
// It keeps the last state of every view for Snapshot.
type channelPresenter struct {
	channel   string
	publisher publisher
	onVideo   func(video session.Video)

	mu      sync.Mutex
	status  StatusView
	loading bool
	cards   []Card
	video   *session.Video
}

func newChannelPresenter(channel string, p publisher, onVideo func(video session.Video)) *channelPresenter {
	return &channelPresenter{
		channel:   channel,
		publisher: p,
		onVideo:   onVideo,
		status:    StatusView{Status: session.StatusLoading, Text: "Connecting to addon..."},
		cards:     []Card{},
	}
}

// Render implements session.Presenter.
func (p *channelPresenter) Render(metas []stremio.MetaPreview) {
	cards := NewCards(metas)
	p.mu.Lock()
	p.cards = cards
	p.mu.Unlock()
	p.publish(EventRender, cards)
}

// SetStatus implements session.Presenter.
func (p *channelPresenter) SetStatus(status session.Status, text string) {
	view := StatusView{Status: status, Text: text}
	p.mu.Lock()
	p.status = view
	p.mu.Unlock()
	p.publish(EventStatus, view)
}

// SetLoading implements session.Presenter.
func (p *channelPresenter) SetLoading(loading bool) {
	p.mu.Lock()
	p.loading = loading
	p.mu.Unlock()
	p.publish(EventLoading, loading)
}

// ShowMessage implements session.Presenter.
func (p *channelPresenter) ShowMessage(msg session.Message) {
	p.publish(EventMessage, msg)
}

// RemoveMessage implements session.Presenter.
func (p *channelPresenter) RemoveMessage(id string) {
	p.publish(EventMessageRemoved, id)
}

// PresentVideo implements session.Presenter.
func (p *channelPresenter) PresentVideo(video session.Video) {
	p.mu.Lock()
	p.video = &video
	p.mu.Unlock()
	p.publish(EventVideo, video)

	if p.onVideo != nil {
		p.onVideo(video)
	}
}

func (p *channelPresenter) snapshot() (StatusView, bool, []Card, *session.Video) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var video *session.Video
	if p.video != nil {
		v := *p.video
		video = &v
	}
	return p.status, p.loading, p.cards, video
}

func (p *channelPresenter) publish(eventType string, data any) {
	b, err := json.Marshal(Event{Type: eventType, Data: data})
	if err != nil {
		common.Log.Error("Failed to json.Marshal", "event", eventType, "err", err)
		return
	}

	if _, err := p.publisher.Publish(p.channel, b); err != nil {
		common.Log.Warn(fmt.Sprintf("Failed to publish %s event", eventType), "channel", p.channel, "err", err)
	}
}
