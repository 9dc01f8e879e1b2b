package config

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/multierr"

	"github.com/colinjlacy/knapscen-register-users/internal/registration/domain"
)

const (
	ModeRegister  = "register"
	ModeRepublish = "republish"

	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"

	BrokerNATS   = "nats"
	BrokerKafka  = "kafka"
	BrokerMemory = "memory"

	// AttrPrefix marca las variables que viajan como atributos extra del evento.
	AttrPrefix = "USER_ATTR_"
)

// Claves de conexión: nunca pueden acabar en el payload del evento.
var reservedKeys = []string{
	"DB_DRIVER", "DB_HOST", "DB_PORT", "DB_USER", "DB_PASSWORD", "DB_NAME", "DB_SSLMODE",
	"SQLITE_PATH", "STORE_TIMEOUT", "STORE_INIT_SCHEMA",
	"BROKER_KIND", "NATS_SERVER", "NATS_STREAM", "NATS_SUBJECT", "NATS_USER", "NATS_PASSWORD",
	"KAFKA_BROKERS", "CONNECT_TIMEOUT", "PUBLISH_TIMEOUT",
	"PUSHGATEWAY_URL", "LOG_LEVEL", "REGISTRATION_MODE",
}

// Campos de identidad que el evento ya lleva con su propio nombre.
var coreKeys = []string{
	"USER_NAME", "USER_EMAIL", "CUSTOMER_ID", "CUSTOMER_NAME", "ROLE_ID", "ROLE_NAME",
}

type Store struct {
	Driver     string
	Host       string
	Port       int
	User       string
	Password   string
	Name       string
	SSLMode    string
	SQLitePath string
	Timeout    time.Duration
	InitSchema bool
}

// DSN devuelve la URL de conexión de Postgres.
func (s Store) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(s.User, s.Password),
		Host:   fmt.Sprintf("%s:%d", s.Host, s.Port),
		Path:   "/" + s.Name,
	}
	q := url.Values{}
	q.Set("sslmode", s.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}

type Broker struct {
	Kind           string
	Servers        []string
	Stream         string
	Subject        string
	User           string
	Password       string
	KafkaBrokers   []string
	ConnectTimeout time.Duration
	PublishTimeout time.Duration
}

// Target devuelve el destino de publicación. En Kafka el stream es el topic.
func (b Broker) Target() domain.Target {
	return domain.Target{Stream: b.Stream, Subject: b.Subject}
}

type Metrics struct {
	PushgatewayURL string
	Job            string
}

// Config se construye una sola vez al arrancar y se pasa explícitamente a
// cada componente. No se vuelve a leer el entorno.
type Config struct {
	Mode     string
	LogLevel string

	Request domain.RegistrationRequest
	Store   Store
	Broker  Broker
	Metrics Metrics

	// Dropped lista las variables USER_ATTR_* descartadas por colisionar
	// con una clave reservada o de identidad.
	Dropped []string
}

// Load construye la configuración a partir de pares KEY=VALUE (os.Environ()
// en main). Todos los problemas se devuelven juntos como ErrConfiguration.
func Load(pairs []string) (*Config, error) {
	env := parseEnviron(pairs)
	var errs error

	fail := func(format string, args ...any) {
		errs = multierr.Append(errs, fmt.Errorf("%w: "+format, append([]any{domain.ErrConfiguration}, args...)...))
	}

	cfg := &Config{
		Mode:     strings.ToLower(env.get("REGISTRATION_MODE", ModeRegister)),
		LogLevel: env.get("LOG_LEVEL", "info"),
		Metrics: Metrics{
			PushgatewayURL: env.get("PUSHGATEWAY_URL", ""),
			Job:            "register_user",
		},
	}
	if cfg.Mode != ModeRegister && cfg.Mode != ModeRepublish {
		fail("REGISTRATION_MODE must be %q or %q, got %q", ModeRegister, ModeRepublish, cfg.Mode)
	}

	// ---------- Store ----------
	cfg.Store = Store{
		Driver:     strings.ToLower(env.get("DB_DRIVER", DriverPostgres)),
		Host:       env.get("DB_HOST", ""),
		User:       env.get("DB_USER", ""),
		Password:   env.get("DB_PASSWORD", ""),
		Name:       env.get("DB_NAME", ""),
		SSLMode:    env.get("DB_SSLMODE", "disable"),
		SQLitePath: env.get("SQLITE_PATH", ""),
	}
	port, err := strconv.Atoi(env.get("DB_PORT", "5432"))
	if err != nil || port <= 0 || port > 65535 {
		fail("DB_PORT %q is not a valid port", env.get("DB_PORT", ""))
	}
	cfg.Store.Port = port
	cfg.Store.Timeout = env.duration("STORE_TIMEOUT", 5*time.Second, fail)
	cfg.Store.InitSchema = env.boolean("STORE_INIT_SCHEMA", fail)

	switch cfg.Store.Driver {
	case DriverPostgres:
		for _, key := range []string{"DB_HOST", "DB_USER", "DB_PASSWORD", "DB_NAME"} {
			if env.get(key, "") == "" {
				fail("%s is required for the postgres driver", key)
			}
		}
	case DriverSQLite:
		if cfg.Store.SQLitePath == "" {
			fail("SQLITE_PATH is required for the sqlite driver")
		}
	default:
		fail("DB_DRIVER must be %q or %q, got %q", DriverPostgres, DriverSQLite, cfg.Store.Driver)
	}

	// ---------- Broker ----------
	cfg.Broker = Broker{
		Kind:         strings.ToLower(env.get("BROKER_KIND", BrokerNATS)),
		Servers:      env.list("NATS_SERVER"),
		Stream:       env.get("NATS_STREAM", ""),
		Subject:      env.get("NATS_SUBJECT", ""),
		User:         env.get("NATS_USER", ""),
		Password:     env.get("NATS_PASSWORD", ""),
		KafkaBrokers: env.list("KAFKA_BROKERS"),
	}
	cfg.Broker.ConnectTimeout = env.duration("CONNECT_TIMEOUT", 5*time.Second, fail)
	cfg.Broker.PublishTimeout = env.duration("PUBLISH_TIMEOUT", 5*time.Second, fail)

	if cfg.Broker.Stream == "" {
		fail("NATS_STREAM is required")
	}
	if cfg.Broker.Subject == "" {
		fail("NATS_SUBJECT is required")
	}
	switch cfg.Broker.Kind {
	case BrokerNATS:
		if len(cfg.Broker.Servers) == 0 {
			fail("NATS_SERVER is required for the nats broker")
		}
		if (cfg.Broker.User == "") != (cfg.Broker.Password == "") {
			fail("NATS_USER and NATS_PASSWORD must be set together")
		}
	case BrokerKafka:
		if len(cfg.Broker.KafkaBrokers) == 0 {
			fail("KAFKA_BROKERS is required for the kafka broker")
		}
	case BrokerMemory:
		// El bus en memoria no sale del proceso: sólo para dry runs contra sqlite.
		if cfg.Store.Driver != DriverSQLite {
			fail("BROKER_KIND=%s requires DB_DRIVER=%s, got %q", BrokerMemory, DriverSQLite, cfg.Store.Driver)
		}
	default:
		fail("BROKER_KIND must be one of %q, %q, %q, got %q", BrokerNATS, BrokerKafka, BrokerMemory, cfg.Broker.Kind)
	}

	// ---------- Identidad ----------
	customer, err := reference(env, "CUSTOMER_ID", "CUSTOMER_NAME")
	errs = multierr.Append(errs, err)
	role, err := reference(env, "ROLE_ID", "ROLE_NAME")
	errs = multierr.Append(errs, err)

	extra, dropped := extraAttributes(env)
	cfg.Dropped = dropped

	req, err := domain.NewRegistrationRequest(env.get("USER_NAME", ""), env.get("USER_EMAIL", ""), customer, role, extra)
	errs = multierr.Append(errs, err)
	cfg.Request = req

	if errs != nil {
		return nil, errs
	}
	return cfg, nil
}

// reference aplica la regla del id primero: si ambos están presentes, gana el id.
func reference(env environ, idKey, nameKey string) (domain.Reference, error) {
	if raw := env.get(idKey, ""); raw != "" {
		ref, err := domain.ParseID(raw)
		if err != nil {
			// Marcador no vacío: el error ya está reportado, no se añade el "required".
			return domain.ByName(raw), fmt.Errorf("%s: %w", idKey, err)
		}
		return ref, nil
	}
	if name := env.get(nameKey, ""); name != "" {
		return domain.ByName(name), nil
	}
	return domain.Reference{}, nil
}

// extraAttributes recoge USER_ATTR_<KEY>, con la clave en minúsculas y
// ordenada. Devuelve también las variables descartadas.
func extraAttributes(env environ) (domain.Attributes, []string) {
	blocked := make(map[string]struct{}, len(reservedKeys)+len(coreKeys)+4)
	for _, k := range append(append([]string(nil), reservedKeys...), coreKeys...) {
		blocked[strings.ToLower(k)] = struct{}{}
	}
	for _, k := range []string{domain.DataUserName, domain.DataUserEmail, domain.DataCustomerName, domain.DataRoleName} {
		blocked[k] = struct{}{}
	}

	var (
		attrs   domain.Attributes
		dropped []string
	)
	for _, name := range env.keys() {
		if !strings.HasPrefix(name, AttrPrefix) {
			continue
		}
		key := strings.ToLower(strings.TrimPrefix(name, AttrPrefix))
		if key == "" {
			dropped = append(dropped, name)
			continue
		}
		if _, ok := blocked[key]; ok {
			dropped = append(dropped, name)
			continue
		}
		attrs = append(attrs, domain.Attribute{Key: key, Value: env[name]})
	}
	sort.SliceStable(attrs, func(i, j int) bool { return attrs[i].Key < attrs[j].Key })
	return attrs, dropped
}

// ---------- helpers de entorno ----------

type environ map[string]string

func parseEnviron(pairs []string) environ {
	env := make(environ, len(pairs))
	for _, kv := range pairs {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			continue
		}
		env[key] = value
	}
	return env
}

func (e environ) get(key, fallback string) string {
	if v := strings.TrimSpace(e[key]); v != "" {
		return v
	}
	return fallback
}

func (e environ) list(key string) []string {
	var out []string
	for _, part := range strings.Split(e.get(key, ""), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (e environ) duration(key string, fallback time.Duration, fail func(string, ...any)) time.Duration {
	raw := e.get(key, "")
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		fail("%s %q is not a positive duration", key, raw)
		return fallback
	}
	return d
}

func (e environ) boolean(key string, fail func(string, ...any)) bool {
	raw := e.get(key, "")
	if raw == "" {
		return false
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		fail("%s %q is not a boolean", key, raw)
	}
	return b
}

func (e environ) keys() []string {
	keys := make([]string, 0, len(e))
	for k := range e {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
