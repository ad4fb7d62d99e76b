package printing

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Browser-side signal types relayed to the spooler.
const (
	EventAfterPrint = "afterprint"
	EventFocus      = "focus"
	EventBlur       = "blur"
)

// ObjectStore is the part of the MinIO client the spooler uses.
type ObjectStore interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error
	PresignedGetObject(ctx context.Context, bucketName, objectName string, expires time.Duration, reqParams url.Values) (*url.URL, error)
}

// Event is a signal from a print station's browser window.
type Event struct {
	Type      string `json:"type" validate:"required,oneof=afterprint focus blur"`
	SurfaceID string `json:"surface_id,omitempty"`
}

// Job is what a print station receives when a surface should be printed.
type Job struct {
	SurfaceID string `json:"surface_id"`
	URL       string `json:"url"`
}

// Spooler renders documents into object storage and exchanges print jobs and
// window signals with print stations over Redis pub/sub.
type Spooler struct {
	objects ObjectStore
	bucket  string
	redis   *redis.Client
	urlTTL  time.Duration
	logger  *zap.Logger
}

// NewSpooler creates a Spooler storing rendered surfaces in bucket.
func NewSpooler(objects ObjectStore, bucket string, rds *redis.Client, logger *zap.Logger) *Spooler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Spooler{
		objects: objects,
		bucket:  bucket,
		redis:   rds,
		urlTTL:  15 * time.Minute,
		logger:  logger,
	}
}

func jobsChannel(station string) string   { return fmt.Sprintf("print:%s:jobs", station) }
func eventsChannel(station string) string { return fmt.Sprintf("print:%s:events", station) }

// Publish relays a browser signal for station.
func (s *Spooler) Publish(ctx context.Context, station string, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return errors.Wrap(err, "failed to encode print event")
	}
	if err := s.redis.Publish(ctx, eventsChannel(station), data).Err(); err != nil {
		return errors.Wrap(err, "failed to publish print event")
	}
	return nil
}

// Station returns the Platform of one print station.
func (s *Spooler) Station(station string) *SpoolPlatform {
	return &SpoolPlatform{spooler: s, station: station}
}

// SpoolPlatform implements Platform for a single print station.
type SpoolPlatform struct {
	spooler *Spooler
	station string
}

// Render uploads the document and returns a surface addressed by a presigned URL.
func (p *SpoolPlatform) Render(ctx context.Context, doc Document) (Surface, error) {
	key := fmt.Sprintf("%s/%s.html", p.station, uuid.NewString())
	body := strings.NewReader(doc.HTML)
	_, err := p.spooler.objects.PutObject(ctx, p.spooler.bucket, key, body, int64(body.Len()),
		minio.PutObjectOptions{ContentType: "text/html; charset=utf-8"})
	if err != nil {
		return Surface{}, errors.Wrap(err, "failed to upload print surface")
	}
	u, err := p.spooler.objects.PresignedGetObject(ctx, p.spooler.bucket, key, p.spooler.urlTTL, nil)
	if err != nil {
		// the object exists already, so remove it before giving up
		_ = p.spooler.objects.RemoveObject(ctx, p.spooler.bucket, key, minio.RemoveObjectOptions{})
		return Surface{}, errors.Wrap(err, "failed to presign print surface")
	}
	return Surface{ID: key, URL: u.String()}, nil
}

// Print hands the surface to the station.
func (p *SpoolPlatform) Print(ctx context.Context, surface Surface) error {
	data, err := json.Marshal(Job{SurfaceID: surface.ID, URL: surface.URL})
	if err != nil {
		return errors.Wrap(err, "failed to encode print job")
	}
	if err := p.spooler.redis.Publish(ctx, jobsChannel(p.station), data).Err(); err != nil {
		return errors.Wrap(err, "failed to publish print job")
	}
	return nil
}

// Teardown removes the rendered surface.
func (p *SpoolPlatform) Teardown(ctx context.Context, surface Surface) error {
	if surface.ID == "" {
		return nil
	}
	if err := p.spooler.objects.RemoveObject(ctx, p.spooler.bucket, surface.ID, minio.RemoveObjectOptions{}); err != nil {
		return errors.Wrap(err, "failed to remove print surface")
	}
	return nil
}

// OnPrintComplete calls fn when the station reports afterprint for surface.
func (p *SpoolPlatform) OnPrintComplete(ctx context.Context, surface Surface, fn func()) (func(), error) {
	return p.subscribe(ctx, func(ev Event) {
		if ev.Type == EventAfterPrint && ev.SurfaceID == surface.ID {
			fn()
		}
	})
}

// OnFocusChange calls fn for every focus or blur of the station window.
func (p *SpoolPlatform) OnFocusChange(ctx context.Context, fn func(focused bool)) (func(), error) {
	return p.subscribe(ctx, func(ev Event) {
		switch ev.Type {
		case EventFocus:
			fn(true)
		case EventBlur:
			fn(false)
		}
	})
}

// subscribe listens on the station's event channel until the returned stop
// function is called. The subscription is confirmed before returning so no
// event published afterwards is missed.
func (p *SpoolPlatform) subscribe(ctx context.Context, handle func(Event)) (func(), error) {
	sub := p.spooler.redis.Subscribe(ctx, eventsChannel(p.station))
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, errors.Wrap(err, "failed to subscribe to print events")
	}

	msgs := sub.Channel()
	go func() {
		for msg := range msgs {
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				p.spooler.logger.Warn("dropping malformed print event",
					zap.String("station", p.station), zap.Error(err))
				continue
			}
			handle(ev)
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() { _ = sub.Close() })
	}, nil
}
