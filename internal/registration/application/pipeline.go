package application

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/colinjlacy/knapscen-register-users/internal/registration/domain"
)

// Stage es la etapa del pipeline en la que terminó (o falló) la ejecución.
type Stage string

const (
	StageStart      Stage = "start"
	StageResolving  Stage = "resolving"
	StagePersisting Stage = "persisting"
	StagePublishing Stage = "publishing"
	StageDone       Stage = "done"
)

// Status distingue los resultados terminales.
type Status int

const (
	StatusDone Status = iota
	// Nada se escribió: se puede relanzar el pipeline completo.
	StatusFailedBeforePersist
	// El usuario existe pero el evento no: sólo hay que reintentar la publicación.
	StatusPersistedButNotPublished
)

func (s Status) String() string {
	switch s {
	case StatusDone:
		return "done"
	case StatusFailedBeforePersist:
		return "failed_before_persist"
	case StatusPersistedButNotPublished:
		return "persisted_but_not_published"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Exit codes del proceso.
const (
	ExitOK            = 0
	ExitUnexpected    = 1
	ExitConfiguration = 2
	ExitResolution    = 3
	ExitStore         = 4
	ExitPublish       = 5
)

// Outcome es el resultado de una ejecución.
type Outcome struct {
	Status  Status
	Stage   Stage
	Record  *domain.UserRecord
	Event   *domain.RegistrationEvent
	Receipt *domain.PublishReceipt
	Err     error
}

// ExitCode traduce el resultado al código de salida del proceso.
func (o Outcome) ExitCode() int {
	if o.Status == StatusDone {
		return ExitOK
	}
	if o.Status == StatusPersistedButNotPublished {
		return ExitPublish
	}
	switch domain.CategoryOf(o.Err) {
	case domain.CategoryConfig:
		return ExitConfiguration
	case domain.CategoryResolution:
		return ExitResolution
	case domain.CategoryStore:
		return ExitStore
	case domain.CategoryPublish:
		return ExitPublish
	default:
		return ExitUnexpected
	}
}

// Recorder recibe las métricas del pipeline. Puede ser nil.
type Recorder interface {
	ObserveStage(stage string, d time.Duration)
	RecordOutcome(status string)
}

// Pipeline orquesta resolve → persist → publish.
type Pipeline struct {
	resolver Resolver
	users    domain.UserRepository
	dialer   domain.PublisherDialer
	target   domain.Target
	metrics  Recorder
	log      *zap.Logger
	now      func() time.Time
}

type Option func(*Pipeline)

func WithRecorder(r Recorder) Option {
	return func(p *Pipeline) { p.metrics = r }
}

func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// NewPipeline constructor
func NewPipeline(
	resolver Resolver,
	users domain.UserRepository,
	dialer domain.PublisherDialer,
	target domain.Target,
	log *zap.Logger,
	opts ...Option,
) *Pipeline {
	p := &Pipeline{
		resolver: resolver,
		users:    users,
		dialer:   dialer,
		target:   target,
		log:      log,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run registra al usuario y publica el evento user_registered.
func (p *Pipeline) Run(ctx context.Context, req domain.RegistrationRequest) Outcome {
	log := p.log.With(zap.String("user_email", req.UserEmail()))
	log.Info("🚀 Starting user registration",
		zap.Stringer("customer", req.Customer()),
		zap.Stringer("role", req.Role()),
	)

	// 1. Resolving: ningún error aquí deja efectos secundarios.
	start := time.Now()
	ids, err := p.resolver.Resolve(ctx, req.Customer(), req.Role())
	p.observe(StageResolving, start)
	if err != nil {
		return p.finish(log, Outcome{Status: StatusFailedBeforePersist, Stage: StageResolving, Err: err})
	}

	// 2. Persisting: si falla, el usuario no existe y no hay nada que reconciliar.
	start = time.Now()
	rec, err := p.users.Register(ctx, req, ids)
	p.observe(StagePersisting, start)
	if err != nil {
		return p.finish(log, Outcome{Status: StatusFailedBeforePersist, Stage: StagePersisting, Err: err})
	}
	log.Info("✅ User persisted", zap.String("user_id", rec.ID.String()))

	// 3. Publishing
	return p.publishRecord(ctx, log, rec, req)
}

// Republish reintenta sólo la publicación para un usuario que ya existe.
func (p *Pipeline) Republish(ctx context.Context, req domain.RegistrationRequest) Outcome {
	log := p.log.With(zap.String("user_email", req.UserEmail()))
	log.Info("🔁 Republishing registration event")

	start := time.Now()
	rec, err := p.users.FindByEmail(ctx, req.UserEmail())
	if err != nil {
		p.observe(StageResolving, start)
		return p.finish(log, Outcome{Status: StatusFailedBeforePersist, Stage: StageResolving, Err: err})
	}

	// Las referencias suministradas tienen que ser las de la fila guardada.
	ids, err := p.resolver.Resolve(ctx, req.Customer(), req.Role())
	p.observe(StageResolving, start)
	if err != nil {
		return p.finish(log, Outcome{Status: StatusFailedBeforePersist, Stage: StageResolving, Record: rec, Err: err})
	}
	if ids.CustomerID != rec.CustomerID || ids.RoleID != rec.RoleID {
		err := fmt.Errorf("%w: customer %s and role %s do not match stored user %s (customer %s, role %s)",
			domain.ErrConfiguration, req.Customer(), req.Role(), rec.ID, rec.CustomerID, rec.RoleID)
		return p.finish(log, Outcome{Status: StatusFailedBeforePersist, Stage: StageResolving, Record: rec, Err: err})
	}

	// Nombre y email salen de la fila, no de la petición.
	stored, err := domain.NewRegistrationRequest(rec.Name, rec.Email, req.Customer(), req.Role(), req.Extra())
	if err != nil {
		return p.finish(log, Outcome{Status: StatusFailedBeforePersist, Stage: StageResolving, Record: rec, Err: err})
	}
	if stored.UserName() != req.UserName() {
		log.Warn("user name differs from the stored user; publishing the stored one",
			zap.String("user_id", rec.ID.String()),
			zap.String("stored_name", rec.Name),
		)
	}

	return p.publishRecord(ctx, log, rec, stored)
}

func (p *Pipeline) publishRecord(ctx context.Context, log *zap.Logger, rec *domain.UserRecord, req domain.RegistrationRequest) Outcome {
	out := Outcome{Status: StatusPersistedButNotPublished, Stage: StagePublishing, Record: rec}

	evt, err := domain.NewRegistrationEvent(rec, req, p.now())
	if err != nil {
		out.Err = err
		return p.finish(log, out)
	}
	out.Event = &evt

	start := time.Now()
	receipt, err := p.publish(ctx, evt)
	p.observe(StagePublishing, start)
	if err != nil {
		out.Err = err
		return p.finish(log, out)
	}

	out.Status = StatusDone
	out.Stage = StageDone
	out.Receipt = &receipt
	return p.finish(log, out)
}

// publish abre la conexión con el broker sólo en esta etapa y la cierra siempre.
func (p *Pipeline) publish(ctx context.Context, evt domain.RegistrationEvent) (domain.PublishReceipt, error) {
	pub, err := p.dialer.Dial(ctx)
	if err != nil {
		return domain.PublishReceipt{}, err
	}
	defer func() {
		if cerr := pub.Close(); cerr != nil {
			p.log.Warn("failed to close broker connection", zap.Error(cerr))
		}
	}()

	return pub.Publish(ctx, evt, p.target)
}

func (p *Pipeline) finish(log *zap.Logger, out Outcome) Outcome {
	if p.metrics != nil {
		p.metrics.RecordOutcome(out.Status.String())
	}

	switch out.Status {
	case StatusDone:
		log.Info("✅ Registration completed",
			zap.String("user_id", out.Record.ID.String()),
			zap.String("stream", out.Receipt.Stream),
			zap.Uint64("sequence", out.Receipt.Sequence),
			zap.Bool("duplicate", out.Receipt.Duplicate),
		)
	case StatusPersistedButNotPublished:
		// Estado parcial: el usuario existe y el evento no. Nunca se compensa borrando.
		log.Error("⚠️ User persisted but event not published; retry publish only",
			zap.String("user_id", userID(out.Record)),
			zap.String("category", domain.CategoryOf(out.Err).String()),
			zap.Error(out.Err),
		)
	default:
		log.Error("registration failed",
			zap.String("stage", string(out.Stage)),
			zap.String("category", domain.CategoryOf(out.Err).String()),
			zap.Error(out.Err),
		)
	}
	return out
}

func userID(rec *domain.UserRecord) string {
	if rec == nil {
		return ""
	}
	return rec.ID.String()
}

func (p *Pipeline) observe(stage Stage, start time.Time) {
	if p.metrics != nil {
		p.metrics.ObserveStage(string(stage), time.Since(start))
	}
}
