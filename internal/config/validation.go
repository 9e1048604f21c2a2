package config

import (
	"fmt"
	"net"
	"os"
	"regexp"
	"slices"
	"strings"
)

// ValidationError represents a configuration validation error with suggestions
type ValidationError struct {
	Field       string
	Value       interface{}
	Message     string
	Suggestions []string
}

func (ve *ValidationError) Error() string {
	return fmt.Sprintf("validation error in %s: %s", ve.Field, ve.Message)
}

// ValidationResult holds the result of configuration validation
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// HasErrors returns true if there are any validation errors
func (vr *ValidationResult) HasErrors() bool {
	return len(vr.Errors) > 0
}

// HasWarnings returns true if there are any validation warnings
func (vr *ValidationResult) HasWarnings() bool {
	return len(vr.Warnings) > 0
}

// String returns a formatted string of all validation issues
func (vr *ValidationResult) String() string {
	var builder strings.Builder

	write := func(title string, issues []ValidationError) {
		if len(issues) == 0 {
			return
		}
		builder.WriteString(title + ":\n")
		for _, issue := range issues {
			builder.WriteString(fmt.Sprintf("  - %s: %s\n", issue.Field, issue.Message))
			for _, suggestion := range issue.Suggestions {
				builder.WriteString(fmt.Sprintf("      %s\n", suggestion))
			}
		}
	}

	write("Errors", vr.Errors)
	write("Warnings", vr.Warnings)

	return builder.String()
}

func (vr *ValidationResult) fail(field string, value interface{}, msg string, suggestions ...string) {
	vr.Errors = append(vr.Errors, ValidationError{Field: field, Value: value, Message: msg, Suggestions: suggestions})
}

func (vr *ValidationResult) warn(field string, value interface{}, msg string, suggestions ...string) {
	vr.Warnings = append(vr.Warnings, ValidationError{Field: field, Value: value, Message: msg, Suggestions: suggestions})
}

// Validate checks every section of cfg and collects errors and warnings.
// Warnings cover conditions that only fail later, such as a template root
// that does not exist yet.
func Validate(cfg *Config) *ValidationResult {
	result := &ValidationResult{}

	validateTemplates(&cfg.Templates, result)
	validateRender(&cfg.Render, result)
	validateCache(&cfg.Cache, result)
	validateServer(&cfg.Server, result)
	validateLog(&cfg.Log, result)

	if !identPattern.MatchString(cfg.Metrics.Namespace) {
		result.fail("metrics.namespace", cfg.Metrics.Namespace, "not a valid metric name prefix",
			"Use letters, digits and underscores, starting with a letter")
	}

	return result
}

var (
	identPattern     = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)
	classPattern     = regexp.MustCompile(`^-?[A-Za-z_][A-Za-z0-9_-]*$`)
	affixPattern     = regexp.MustCompile(`^[A-Za-z0-9_-]*$`)
	hostnamePattern  = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?(\.[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)*$`)
	templateRootKeys = []string{"root", "include_root", "section_root", "template_root"}
)

func validateTemplates(cfg *TemplatesConfig, result *ValidationResult) {
	roots := []string{cfg.Root, cfg.IncludeRoot, cfg.SectionRoot, cfg.TemplateRoot}
	for i, root := range roots {
		field := "templates." + templateRootKeys[i]
		if root == "" {
			continue
		}
		if err := validatePath(root); err != nil {
			result.fail(field, root, err.Error(), "Point template roots at directories inside your project")
			continue
		}
		if !pathExists(root) {
			result.warn(field, root, "directory does not exist",
				fmt.Sprintf("Create it with: mkdir -p %s", root))
		}
	}

	if !affixPattern.MatchString(cfg.Prefix) {
		result.fail("templates.prefix", cfg.Prefix, "prefix may only contain letters, digits, '_' and '-'")
	}
	if !affixPattern.MatchString(cfg.Suffix) {
		result.fail("templates.suffix", cfg.Suffix, "suffix may only contain letters, digits, '_' and '-'",
			"Write the extension without its leading dot, e.g. 'liquid'")
	}
}

func validateRender(cfg *RenderConfig, result *ValidationResult) {
	if !classPattern.MatchString(cfg.MarkerClass) {
		result.fail("render.marker_class", cfg.MarkerClass, "not a valid CSS class name",
			"Use a single class such as 'section-marker'")
	}

	if cfg.MaxIncludeDepth < 0 {
		result.fail("render.max_include_depth", cfg.MaxIncludeDepth, "depth cannot be negative",
			"Use 0 for the built-in limit")
	} else if cfg.MaxIncludeDepth > 256 {
		result.warn("render.max_include_depth", cfg.MaxIncludeDepth, "very deep include chains are rarely intentional")
	}

	if cfg.DataFile != "" {
		if err := validatePath(cfg.DataFile); err != nil {
			result.fail("render.data_file", cfg.DataFile, err.Error())
		} else if !pathExists(cfg.DataFile) {
			result.warn("render.data_file", cfg.DataFile, "file does not exist")
		}
	}
}

func validateCache(cfg *CacheConfig, result *ValidationResult) {
	if !slices.Contains(cacheBackends, cfg.Backend) {
		result.fail("cache.backend", cfg.Backend, fmt.Sprintf("unknown cache backend %q", cfg.Backend),
			"Available backends: "+strings.Join(cacheBackends, ", "))
	}

	if cfg.Backend == "disk" || (cfg.Backend == "sqlite" && cfg.DSN == "") {
		if err := validatePath(cfg.Dir); err != nil {
			result.fail("cache.dir", cfg.Dir, err.Error())
		}
	}

	if cfg.MaxSize < 0 {
		result.fail("cache.max_size", cfg.MaxSize, "size cannot be negative", "Use 0 for an unbounded cache")
	}
	if cfg.TTL < 0 {
		result.fail("cache.ttl", cfg.TTL.String(), "ttl cannot be negative", "Use 0 to keep entries until evicted")
	}

	if _, err := ParseSchedule(cfg.PruneSchedule); err != nil {
		result.fail("cache.prune_schedule", cfg.PruneSchedule, err.Error(),
			"Use a five-field cron spec such as '*/10 * * * *'",
			"Or a descriptor such as '@hourly' or '@every 10m'")
	}
	if cfg.Backend == "memory" && cfg.TTL == 0 && cfg.MaxSize == 0 {
		result.warn("cache", cfg.Backend, "memory cache has neither a size limit nor a ttl and will grow unbounded")
	}
}

func validateServer(cfg *ServerConfig, result *ValidationResult) {
	if cfg.Port < 0 || cfg.Port > 65535 {
		result.fail("server.port", cfg.Port, fmt.Sprintf("port %d is not in valid range 0-65535", cfg.Port),
			"Common development ports: 3000, 8080, 8000",
			"Port 0 allows system to assign an available port")
	} else if cfg.Port > 0 && cfg.Port < 1024 {
		result.warn("server.port", cfg.Port, "port below 1024 requires elevated privileges")
	}

	if err := validateHostname(cfg.Host); err != nil {
		result.fail("server.host", cfg.Host, err.Error(),
			"Use 'localhost' for local development",
			"Use '0.0.0.0' to bind to all interfaces")
	}
}

func validateLog(cfg *LogConfig, result *ValidationResult) {
	if !slices.Contains(logLevels, cfg.Level) {
		result.fail("log.level", cfg.Level, fmt.Sprintf("unknown log level %q", cfg.Level),
			"Available levels: debug, info, warn, error")
	}
	if !slices.Contains(logFormats, cfg.Format) {
		result.fail("log.format", cfg.Format, fmt.Sprintf("unknown log format %q", cfg.Format),
			"Available formats: "+strings.Join(logFormats, ", "))
	}
}

func validateHostname(host string) error {
	dangerousChars := []string{";", "&", "|", "$", "`", "(", ")", "<", ">", "\"", "'", "\\"}
	for _, char := range dangerousChars {
		if strings.Contains(host, char) {
			return fmt.Errorf("contains dangerous character: %s", char)
		}
	}

	if net.ParseIP(host) != nil || host == "localhost" {
		return nil
	}

	if !hostnamePattern.MatchString(host) {
		return fmt.Errorf("invalid hostname format")
	}

	return nil
}

func pathExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
