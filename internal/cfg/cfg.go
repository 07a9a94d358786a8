package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/keithlinneman/linnemanlabs-docs/internal/log"
	"github.com/keithlinneman/linnemanlabs-docs/internal/rewrite"
	"github.com/keithlinneman/linnemanlabs-docs/internal/sidebar"
)

// EnvPrefix is prepended to every flag name when reading the environment.
const EnvPrefix = "DOCS_REWRITE_"

type App struct {
	LogJSON           bool
	LogLevel          string
	StacktraceLevel   string
	IncludeErrorLinks bool
	MaxErrorLinks     int
	AdminPort         int
	EnablePprof       bool
	EnablePyroscope   bool
	PyroServer        string
	PyroTenantID      string
	EnableTracing     bool
	OTLPEndpoint      string
	TraceSample       float64
	PushgatewayURL    string

	BuildPath      string
	Target         string
	TargetSSMParam string
	Region         string
	Endpoint       string

	AccessKeyID             string
	SecretAccessKey         string
	AllowDefaultCredentials bool

	DefaultRoot  string
	RootRouting  string
	Excludes     string
	ContentType  string
	CacheControl string
	SSEKMSKeyID  string
	MaxInFlight  int
	MaxRPS       float64
	CopyTimeout  time.Duration
	DryRun       bool

	Sidebars       string
	StrictSidebars bool
}

// Register binds all config fields to the given FlagSet with defaults inline
func Register(fs *flag.FlagSet, c *App) {
	fs.BoolVar(&c.LogJSON, "log-json", true, "JSON logs (true) or logfmt (false)")
	fs.StringVar(&c.LogLevel, "log-level", "info", "debug|info|warn|error")
	fs.StringVar(&c.StacktraceLevel, "stacktrace-level", "error", "debug|info|warn|error")
	fs.BoolVar(&c.IncludeErrorLinks, "include-error-links", true, "Include error links in log messages")
	fs.IntVar(&c.MaxErrorLinks, "max-error-links", 5, "max error chain depth (1..64)")
	fs.IntVar(&c.AdminPort, "admin-port", 0, "admin listen TCP port for health, metrics and pprof (0 disables)")
	fs.BoolVar(&c.EnablePprof, "enable-pprof", false, "Enable pprof profiling (on admin port only)")
	fs.BoolVar(&c.EnablePyroscope, "enable-pyroscope", false, "Enable pushing Pyroscope data to server set in -pyro-server")
	fs.StringVar(&c.PyroServer, "pyro-server", "", "pyroscope server url to push to")
	fs.StringVar(&c.PyroTenantID, "pyro-tenant", "", "tenant (x-scope-orgid) to use for pyro-server")
	fs.BoolVar(&c.EnableTracing, "enable-tracing", false, "Enable OTLP tracing and push to otlp-endpoint")
	fs.StringVar(&c.OTLPEndpoint, "otlp-endpoint", "", "OTLP endpoint to push to (gRPC) (host:port)")
	fs.Float64Var(&c.TraceSample, "trace-sample", 1.0, "trace sampling ratio (0..1)")
	fs.StringVar(&c.PushgatewayURL, "pushgateway-url", "", "push run metrics to this Prometheus Pushgateway when set")

	fs.StringVar(&c.BuildPath, "build-path", "", "local build directory produced by the docs generator")
	fs.StringVar(&c.Target, "target", "", "bucket the build was uploaded to, s3://bucket[/prefix]")
	fs.StringVar(&c.TargetSSMParam, "target-ssm-param", "", "ssm parameter name holding the target when -target is unset")
	fs.StringVar(&c.Region, "region", "", "aws region (sdk default chain when empty)")
	fs.StringVar(&c.Endpoint, "endpoint", "", "custom s3 endpoint url, enables path-style addressing")

	fs.StringVar(&c.AccessKeyID, "access-key-id", "", "aws access key id")
	fs.StringVar(&c.SecretAccessKey, "secret-access-key", "", "aws secret access key")
	fs.BoolVar(&c.AllowDefaultCredentials, "allow-default-credentials", false, "use the sdk default credential chain when no keys are given")

	fs.StringVar(&c.DefaultRoot, "default-root", rewrite.DefaultRoot, "clean key used for an empty path")
	fs.StringVar(&c.RootRouting, "root-routing", rewrite.RoutingSame, "same|strip-prefix")
	fs.StringVar(&c.Excludes, "excludes", strings.Join(rewrite.DefaultExcludes, ","), "comma separated base-name patterns skipped while scanning")
	fs.StringVar(&c.ContentType, "content-type", rewrite.DefaultContentType, "content type set on clean key objects")
	fs.StringVar(&c.CacheControl, "cache-control", "", "cache-control set on clean key objects")
	fs.StringVar(&c.SSEKMSKeyID, "sse-kms-key-id", "", "encrypt copies with this KMS key")
	fs.IntVar(&c.MaxInFlight, "max-in-flight", rewrite.DefaultMaxInFlight, "concurrent copy requests (1..1024)")
	fs.Float64Var(&c.MaxRPS, "max-rps", 0, "copy requests started per second (0 = unlimited)")
	fs.DurationVar(&c.CopyTimeout, "copy-timeout", 30*time.Second, "deadline for each copy request (0 = none)")
	fs.BoolVar(&c.DryRun, "dry-run", false, "log the copies without sending them")

	fs.StringVar(&c.Sidebars, "sidebars", "", "comma separated [base=]path sidebar files to check against the build; sidebars-<base>.js implies its base")
	fs.BoolVar(&c.StrictSidebars, "strict-sidebars", false, "abort when a sidebar references a doc with no page")
}

// FillFromEnv sets any flag not explicitly passed on the CLI from
// environment variables. Flag "foo-bar" maps to PREFIX_FOO_BAR.
// Precedence: cli flag > env var > default.
func FillFromEnv(fs *flag.FlagSet, prefix string, logf func(string, ...any)) {
	explicit := explicitFlags(fs)
	fs.VisitAll(func(f *flag.Flag) {
		key := prefix + strings.ReplaceAll(strings.ToUpper(f.Name), "-", "_")
		setFromEnv(fs, f, key, explicit, logf)
	})
}

// LegacyAliases maps the unprefixed variables older deploy jobs export.
var LegacyAliases = map[string]string{
	"AWS_S3_BUCKET":         "target",
	"DOCUSAURUS_BUILD_PATH": "build-path",
	"AWS_ACCESS_KEY_ID":     "access-key-id",
	"AWS_SECRET_ACCESS_KEY": "secret-access-key",
}

// FillFromAliases is FillFromEnv for env names that don't follow the prefix
// convention. Run it after FillFromEnv: an alias only fills a flag that is
// still at its default.
func FillFromAliases(fs *flag.FlagSet, aliases map[string]string, logf func(string, ...any)) {
	explicit := explicitFlags(fs)
	for key, name := range aliases {
		f := fs.Lookup(name)
		if f == nil {
			continue
		}
		if f.Value.String() != f.DefValue {
			explicit[name] = true
		}
		setFromEnv(fs, f, key, explicit, logf)
	}
}

func explicitFlags(fs *flag.FlagSet) map[string]bool {
	explicit := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })
	return explicit
}

func setFromEnv(fs *flag.FlagSet, f *flag.Flag, key string, explicit map[string]bool, logf func(string, ...any)) {
	envVal, envSet := os.LookupEnv(key)
	if !envSet {
		return
	}
	if explicit[f.Name] {
		if logf != nil {
			logf("flag -%s: value %q overrides env %s", f.Name, redact(f.Name, f.Value.String()), key)
		}
		return
	}
	prev := f.Value.String()
	if err := fs.Set(f.Name, envVal); err != nil {
		_ = fs.Set(f.Name, prev)
		if logf != nil {
			logf("flag -%s: ignoring invalid env %s=%q: %v", f.Name, key, redact(f.Name, envVal), err)
		}
	}
}

func redact(name, v string) string {
	if name == "secret-access-key" && v != "" {
		return "[redacted]"
	}
	return v
}

// SplitList splits a comma separated flag value, dropping empty items.
func SplitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks that config values are within expected ranges and formats.
// Returns an error describing all invalid fields, or nil if all valid.
func Validate(c App) error {
	var errs []error

	if c.AdminPort < 0 || c.AdminPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid ADMIN_PORT %d (must be 0..65535)", c.AdminPort))
	}

	// Log levels
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("invalid LOG_LEVEL %q: %w", c.LogLevel, err))
	}
	if c.StacktraceLevel != "" {
		if _, err := log.ParseLevel(c.StacktraceLevel); err != nil {
			errs = append(errs, fmt.Errorf("invalid STACKTRACE_LEVEL %q: %w", c.StacktraceLevel, err))
		}
	}
	if c.IncludeErrorLinks && (c.MaxErrorLinks < 1 || c.MaxErrorLinks > 64) {
		errs = append(errs, fmt.Errorf("MAX_ERROR_LINKS must be 1..64 (got %d)", c.MaxErrorLinks))
	}

	if c.TraceSample < 0 || c.TraceSample > 1 {
		errs = append(errs, fmt.Errorf("invalid TRACE_SAMPLE %.3f (must be 0..1)", c.TraceSample))
	}
	if c.EnablePyroscope {
		if c.PyroServer == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER required when ENABLE_PYROSCOPE=true"))
		} else if !isURL(c.PyroServer) {
			errs = append(errs, fmt.Errorf("PYRO_SERVER must be a URL (got %q)", c.PyroServer))
		}
		if c.PyroTenantID == "" {
			errs = append(errs, fmt.Errorf("PYRO_TENANT required when ENABLE_PYROSCOPE=true"))
		}
	}
	// grpc exporter wants host:port, no scheme
	if c.EnableTracing {
		if c.OTLPEndpoint == "" {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT required when ENABLE_TRACING=true"))
		} else if _, _, err := net.SplitHostPort(c.OTLPEndpoint); err != nil {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT must be host:port (got %q): %v", c.OTLPEndpoint, err))
		}
	}
	if c.PushgatewayURL != "" && !isURL(c.PushgatewayURL) {
		errs = append(errs, fmt.Errorf("PUSHGATEWAY_URL must be a URL (got %q)", c.PushgatewayURL))
	}

	if c.BuildPath == "" {
		errs = append(errs, fmt.Errorf("BUILD_PATH is required"))
	}
	switch {
	case c.Target != "":
		if _, err := rewrite.ParseTarget(c.Target); err != nil {
			errs = append(errs, fmt.Errorf("invalid TARGET: %w", err))
		}
	case c.TargetSSMParam == "":
		errs = append(errs, fmt.Errorf("TARGET or TARGET_SSM_PARAM is required"))
	}
	if c.Endpoint != "" && !isURL(c.Endpoint) {
		errs = append(errs, fmt.Errorf("ENDPOINT must be a URL (got %q)", c.Endpoint))
	}

	switch {
	case (c.AccessKeyID == "") != (c.SecretAccessKey == ""):
		errs = append(errs, fmt.Errorf("ACCESS_KEY_ID and SECRET_ACCESS_KEY must be set together"))
	case c.AccessKeyID == "" && !c.AllowDefaultCredentials:
		errs = append(errs, fmt.Errorf("ACCESS_KEY_ID and SECRET_ACCESS_KEY are required unless ALLOW_DEFAULT_CREDENTIALS=true"))
	}

	if c.DefaultRoot == "" || strings.Contains(c.DefaultRoot, "/") {
		errs = append(errs, fmt.Errorf("DEFAULT_ROOT must be a single path segment (got %q)", c.DefaultRoot))
	}
	if c.RootRouting != rewrite.RoutingSame && c.RootRouting != rewrite.RoutingStripPrefix {
		errs = append(errs, fmt.Errorf("invalid ROOT_ROUTING %q (want %s|%s)", c.RootRouting, rewrite.RoutingSame, rewrite.RoutingStripPrefix))
	}
	if err := rewrite.ValidatePatterns(SplitList(c.Excludes)); err != nil {
		errs = append(errs, fmt.Errorf("invalid EXCLUDES: %w", err))
	}
	if c.ContentType == "" {
		errs = append(errs, fmt.Errorf("CONTENT_TYPE must not be empty"))
	}
	if c.MaxInFlight < 1 || c.MaxInFlight > 1024 {
		errs = append(errs, fmt.Errorf("MAX_IN_FLIGHT must be 1..1024 (got %d)", c.MaxInFlight))
	}
	if c.MaxRPS < 0 {
		errs = append(errs, fmt.Errorf("MAX_RPS must be >= 0 (got %v)", c.MaxRPS))
	}
	if c.CopyTimeout < 0 {
		errs = append(errs, fmt.Errorf("COPY_TIMEOUT must be >= 0 (got %s)", c.CopyTimeout))
	}
	if c.StrictSidebars && c.Sidebars == "" {
		errs = append(errs, fmt.Errorf("STRICT_SIDEBARS requires SIDEBARS"))
	}
	for _, s := range SplitList(c.Sidebars) {
		if _, err := sidebar.ParseSource(s); err != nil {
			errs = append(errs, fmt.Errorf("invalid SIDEBARS: %w", err))
		}
	}

	return errors.Join(errs...)
}

func isURL(s string) bool {
	u, err := url.Parse(s)
	return err == nil && u.Scheme != "" && u.Host != ""
}
