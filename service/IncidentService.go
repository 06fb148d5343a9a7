package service

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"mietplatz/model"
	"mietplatz/repository"
	"mietplatz/util"

	"github.com/google/uuid"
)

// Incident is the structured report handed to the security pipeline
type Incident struct {
	Type         model.IncidentType     `json:"type"`
	Severity     model.IncidentSeverity `json:"severity"`
	UserID       uuid.UUID              `json:"user_id"`
	RecordID     uuid.UUID              `json:"record_id"`
	RevokedCount int64                  `json:"revoked_count"`
	DeviceID     string                 `json:"device_id,omitempty"`
	ClientIP     string                 `json:"client_ip,omitempty"`
	UserAgent    string                 `json:"user_agent,omitempty"`
	OccurredAt   time.Time              `json:"occurred_at"`
}

// IncidentSink receives incidents out-of-band. Implementations may block;
// the dispatcher keeps them off the rotation path.
type IncidentSink interface {
	Report(ctx context.Context, inc Incident) error
}

// LogSink is the default sink when no alerting backend is configured
type LogSink struct{}

func (LogSink) Report(_ context.Context, inc Incident) error {
	log.Printf("[SECURITY] %s severity=%s user=%s record=%s revoked=%d ip=%s",
		inc.Type, inc.Severity, inc.UserID, inc.RecordID, inc.RevokedCount, inc.ClientIP)
	return nil
}

const incidentBufferSize = 64

// IncidentService turns detected replays into reports for the security
// pipeline and flags the affected user for forced re-authentication. The
// sink call is queued so a slow alerting backend cannot stall rotation.
type IncidentService struct {
	sinks   []IncidentSink
	markers repository.SecurityMarkerRepository

	ch        chan Incident
	done      chan struct{}
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	closeOnce sync.Once
}

func NewIncidentService(markers repository.SecurityMarkerRepository, sinks ...IncidentSink) *IncidentService {
	if len(sinks) == 0 {
		sinks = []IncidentSink{LogSink{}}
	}

	s := &IncidentService{
		sinks:   sinks,
		markers: markers,
		ch:      make(chan Incident, incidentBufferSize),
		done:    make(chan struct{}),
	}

	s.wg.Add(1)
	go s.run()

	return s
}

func (s *IncidentService) run() {
	defer s.wg.Done()

	for {
		select {
		case inc := <-s.ch:
			s.deliver(inc)
		case <-s.done:
			// Drain whatever is still buffered before exiting
			for {
				select {
				case inc := <-s.ch:
					s.deliver(inc)
				default:
					return
				}
			}
		}
	}
}

func (s *IncidentService) deliver(inc Incident) {
	for _, sink := range s.sinks {
		if err := sink.Report(context.Background(), inc); err != nil {
			log.Printf("incident sink failed for user %s: %v", inc.UserID, err)
		}
	}
}

// NotifyReplay reports a token_reuse incident and marks the user for forced
// re-authentication. Side effect only; errors are logged, never surfaced to
// the rotation caller.
func (s *IncidentService) NotifyReplay(ctx context.Context, userID, recordID uuid.UUID, revoked int64, meta RequestMeta) {
	if s == nil {
		return
	}

	// Marker TTL covers the longest-lived access token still in the wild,
	// so downstream guards reject it even though it is not individually
	// blacklisted
	if s.markers != nil {
		if err := s.markers.FlagReauth(ctx, userID, util.AccessTokenTTL()); err != nil {
			log.Printf("failed to flag user %s for re-auth: %v", userID, err)
		}
	}

	inc := Incident{
		Type:         model.IncidentTokenReuse,
		Severity:     model.SeverityCritical,
		UserID:       userID,
		RecordID:     recordID,
		RevokedCount: revoked,
		DeviceID:     meta.DeviceID,
		ClientIP:     meta.ClientIP,
		UserAgent:    meta.UserAgent,
		OccurredAt:   time.Now(),
	}

	select {
	case s.ch <- inc:
	case <-s.done:
	default:
		// Never block rotation on a full queue
		s.dropped.Add(1)
		log.Printf("incident queue full, dropped token_reuse report for user %s", userID)
	}
}

// Dropped returns how many incidents were discarded because the queue was full
func (s *IncidentService) Dropped() uint64 {
	return s.dropped.Load()
}

// Close stops the dispatcher after draining buffered incidents
func (s *IncidentService) Close() {
	if s == nil {
		return
	}
	s.closeOnce.Do(func() {
		close(s.done)
		s.wg.Wait()
	})
}
