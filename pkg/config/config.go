package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// AppName names the per-user config and data directories
const AppName = "coursedump"

// EnvPrefix is prepended to every environment variable read by LoadFromEnv
const EnvPrefix = "COURSEDUMP_"

// Scope values restrict which top-level entries a crawl visits
const (
	ScopeAll              = "all"
	ScopeContainersOnly   = "containers-only"
	ScopeLeafMessagesOnly = "leaf-messages-only"
)

// Failure policy modes
const (
	PolicyInteractive = "interactive"
	PolicyContinue    = "continue"
	PolicyAbort       = "abort"
)

// Config holds all configuration options for an archive run
type Config struct {
	Remote     RemoteConfig     `yaml:"remote" json:"remote"`
	Crawl      CrawlConfig      `yaml:"crawl" json:"crawl"`
	Output     OutputConfig     `yaml:"output" json:"output"`
	Checkpoint CheckpointConfig `yaml:"checkpoint" json:"checkpoint"`
	Retry      RetryConfig      `yaml:"retry" json:"retry"`
	Download   DownloadConfig   `yaml:"download" json:"download"`
	Policy     PolicyConfig     `yaml:"policy" json:"policy"`
	Journal    JournalConfig    `yaml:"journal" json:"journal"`

	Notifications NotificationConfig `yaml:"notifications" json:"notifications"`
	Logging       LoggingConfig      `yaml:"logging" json:"logging"`
}

// RemoteConfig describes where the learning platform lives and how its pages are laid out
type RemoteConfig struct {
	BaseURL   string        `yaml:"base_url" json:"base_url"`
	UserAgent string        `yaml:"user_agent" json:"user_agent"`
	Timeout   time.Duration `yaml:"timeout" json:"timeout"`
	Profile   string        `yaml:"profile" json:"profile"`

	CourseListPath  string `yaml:"course_list_path" json:"course_list_path"`
	ProjectListPath string `yaml:"project_list_path" json:"project_list_path"`
	// CourseListFilter and ProjectListFilter are the prefixes of the form
	// fields that switch the list pages to show every entry
	CourseListFilter  string `yaml:"course_list_filter" json:"course_list_filter"`
	ProjectListFilter string `yaml:"project_list_filter" json:"project_list_filter"`
	CoursePath        string `yaml:"course_path" json:"course_path"`
	FolderPath        string `yaml:"folder_path" json:"folder_path"`
	FolderTableID     string `yaml:"folder_table_id" json:"folder_table_id"`
	MessagingPath     string `yaml:"messaging_path" json:"messaging_path"`

	// MessageFolderPath addresses the old inbox folders by a numeric id
	MessageFolderPath   string `yaml:"message_folder_path" json:"message_folder_path"`
	CourseBulletinPath  string `yaml:"course_bulletin_path" json:"course_bulletin_path"`
	ProjectBulletinPath string `yaml:"project_bulletin_path" json:"project_bulletin_path"`
	BulletinPagePath    string `yaml:"bulletin_page_path" json:"bulletin_page_path"`
	CommentServicePath  string `yaml:"comment_service_path" json:"comment_service_path"`

	IncludeCourses        bool `yaml:"include_courses" json:"include_courses"`
	IncludeProjects       bool `yaml:"include_projects" json:"include_projects"`
	IncludeMessaging      bool `yaml:"include_messaging" json:"include_messaging"`
	IncludeMessageFolders bool `yaml:"include_message_folders" json:"include_message_folders"`
	IncludeBulletins      bool `yaml:"include_bulletins" json:"include_bulletins"`

	// AttachmentPatterns are substrings that mark a link as a downloadable attachment
	AttachmentPatterns []string `yaml:"attachment_patterns" json:"attachment_patterns"`
	ContentSelectors   []string `yaml:"content_selectors" json:"content_selectors"`
}

// CrawlConfig holds traversal options
type CrawlConfig struct {
	RateLimitDelay time.Duration `yaml:"rate_limit_delay" json:"rate_limit_delay"`
	Resume         bool          `yaml:"resume" json:"resume"`
	StartIndex     int           `yaml:"start_index" json:"start_index"`
	Scope          string        `yaml:"scope" json:"scope"`
	MaxPages       int           `yaml:"max_pages" json:"max_pages"`
	MaxEmptyPages  int           `yaml:"max_empty_pages" json:"max_empty_pages"`
}

// OutputConfig holds output directory configuration
type OutputConfig struct {
	BaseDirectory  string `yaml:"base_directory" json:"base_directory"`
	TextExtension  string `yaml:"text_extension" json:"text_extension"`
	// MaxPathLength of 0 picks the host default
	MaxPathLength  int    `yaml:"max_path_length" json:"max_path_length"`
	OverflowFolder string `yaml:"overflow_folder" json:"overflow_folder"`
}

// CheckpointConfig controls the progress file
type CheckpointConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	// Path defaults to saved_progress_state.txt inside the output directory
	Path    string `yaml:"path" json:"path"`
}

// RetryConfig holds transport retry configuration
type RetryConfig struct {
	Enabled      bool          `yaml:"enabled" json:"enabled"`
	MaxAttempts  int           `yaml:"max_attempts" json:"max_attempts"`
	BaseDelay    time.Duration `yaml:"base_delay" json:"base_delay"`
	MaxDelay     time.Duration `yaml:"max_delay" json:"max_delay"`
	Multiplier   float64       `yaml:"multiplier" json:"multiplier"`
	JitterFactor float64       `yaml:"jitter_factor" json:"jitter_factor"`
}

// DownloadConfig holds attachment download configuration
type DownloadConfig struct {
	ConcurrentDownloads int           `yaml:"concurrent_downloads" json:"concurrent_downloads"`
	DownloadTimeout     time.Duration `yaml:"download_timeout" json:"download_timeout"`
	MaxFileSize         int64         `yaml:"max_file_size" json:"max_file_size"`
}

// PolicyConfig decides what happens when an entry fails
type PolicyConfig struct {
	Mode                   string `yaml:"mode" json:"mode"`
	// NonInteractiveDecision is used when Mode is interactive but stdin is not a terminal
	NonInteractiveDecision string `yaml:"non_interactive_decision" json:"non_interactive_decision"`
	MaxConsecutiveFailures int    `yaml:"max_consecutive_failures" json:"max_consecutive_failures"`
}

// JournalConfig holds the run journal settings
type JournalConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
}

// NotificationConfig holds notification preferences
type NotificationConfig struct {
	Enabled    bool `yaml:"enabled" json:"enabled"`
	OnComplete bool `yaml:"on_complete" json:"on_complete"`
	OnAbort    bool `yaml:"on_abort" json:"on_abort"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	File   string `yaml:"file" json:"file"`
	Pretty bool   `yaml:"pretty" json:"pretty"`
}

// DefaultConfig returns a Config instance with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Remote: RemoteConfig{
			UserAgent:         "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36",
			Timeout:           60 * time.Second,
			Profile:           "default",
			CourseListPath:    "/Course/AllCourses.aspx",
			ProjectListPath:   "/Project/AllProjects.aspx",
			CourseListFilter:  "ctl26$ctl00",
			ProjectListFilter: "ctl28$ctl00",
			CoursePath:        "/ContentArea/ContentArea.aspx?LocationID=%s&LocationType=%d",
			FolderPath:        "/Folder/processfolder.aspx?FolderElementID=",
			FolderTableID:     "ctl00_ContentPlaceHolder_ProcessFolderGrid_T",
			MessagingPath:     "/restapi/personal/instantmessages/messagethreads/v1?threadPage=%d&maxThreadCount=15",
			MessageFolderPath: "/Messages/InternalMessages.aspx?MessageFolderId=%d",

			CourseBulletinPath:  "/Course/course.aspx?CourseId=%s",
			ProjectBulletinPath: "/Project/project.aspx?ProjectId=%s&BulletinBoardAll=True",
			BulletinPagePath:    "/Bulletins/Page?courseId=%s&boundaryLightBulletinId=%d&boundaryLightBulletinCreatedTicks=%d",
			CommentServicePath:  "/Services/CommentService.asmx/GetOldComments?sourceId=%s&sourceType=%s&commentId=%s&count=%d&numberOfPreviouslyReadItemsToDisplay=%s&usePersonNameFormatLastFirst=%s",

			IncludeCourses:        true,
			IncludeProjects:       true,
			IncludeMessaging:      true,
			IncludeMessageFolders: true,
			IncludeBulletins:      true,
			AttachmentPatterns: []string{
				"/file/download.aspx?FileID=",
				"/File/download.aspx?FileID=",
				"DownloadRedirect.ashx",
			},
			ContentSelectors: []string{".h-userinput", ".itsl-formbox", "#ctl00_PageContent", "body"},
		},
		Crawl: CrawlConfig{
			RateLimitDelay: time.Second,
			Resume:         false,
			StartIndex:     0,
			Scope:          ScopeAll,
			MaxPages:       10000,
			MaxEmptyPages:  3,
		},
		Output: OutputConfig{
			BaseDirectory:  "./output",
			TextExtension:  ".md",
			MaxPathLength:  0,
			OverflowFolder: "Overflowed Files",
		},
		Checkpoint: CheckpointConfig{
			Enabled: true,
		},
		Retry: RetryConfig{
			Enabled:      true,
			MaxAttempts:  3,
			BaseDelay:    2 * time.Second,
			MaxDelay:     60 * time.Second,
			Multiplier:   2.0,
			JitterFactor: 0.1,
		},
		Download: DownloadConfig{
			ConcurrentDownloads: 3,
			DownloadTimeout:     5 * time.Minute,
			MaxFileSize:         0, // 0 means no limit
		},
		Policy: PolicyConfig{
			Mode:                   PolicyInteractive,
			NonInteractiveDecision: PolicyContinue,
			MaxConsecutiveFailures: 0,
		},
		Journal: JournalConfig{
			Enabled: false,
		},
		Notifications: NotificationConfig{
			Enabled:    false,
			OnComplete: true,
			OnAbort:    true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			File:   "",
			Pretty: true,
		},
	}
}

// CheckpointPath returns the configured checkpoint file or the default inside the output directory
func (c *Config) CheckpointPath() string {
	if c.Checkpoint.Path != "" {
		return c.Checkpoint.Path
	}
	return filepath.Join(c.Output.BaseDirectory, "saved_progress_state.txt")
}

// JournalPath returns the configured journal database or the default inside the output directory
func (c *Config) JournalPath() string {
	if c.Journal.Path != "" {
		return c.Journal.Path
	}
	return filepath.Join(c.Output.BaseDirectory, "journal.db")
}

// EffectiveMaxPathLength resolves a zero MaxPathLength to the host limit
func (c *Config) EffectiveMaxPathLength() int {
	if c.Output.MaxPathLength > 0 {
		return c.Output.MaxPathLength
	}
	if runtime.GOOS == "windows" {
		return 254
	}
	return 4095
}

// LoadFromEnv loads configuration from environment variables
func (c *Config) LoadFromEnv() error {
	var errs []error

	if v := getenv("BASE_URL"); v != "" {
		c.Remote.BaseURL = v
	}
	if v := getenv("USER_AGENT"); v != "" {
		c.Remote.UserAgent = v
	}
	if v := getenv("PROFILE"); v != "" {
		c.Remote.Profile = v
	}
	if v := getenv("OUTPUT_DIR"); v != "" {
		c.Output.BaseDirectory = v
	}
	if v := getenv("TEXT_EXTENSION"); v != "" {
		c.Output.TextExtension = v
	}
	if v := getenv("RATE_LIMIT_DELAY"); v != "" {
		d, err := parseDelay(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sRATE_LIMIT_DELAY: %w", EnvPrefix, err))
		} else {
			c.Crawl.RateLimitDelay = d
		}
	}
	if v := getenv("RESUME"); v != "" {
		c.Crawl.Resume = strings.ToLower(v) == "true"
	}
	if v := getenv("START_INDEX"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sSTART_INDEX: %w", EnvPrefix, err))
		} else {
			c.Crawl.StartIndex = n
		}
	}
	if v := getenv("SCOPE"); v != "" {
		c.Crawl.Scope = v
	}
	if v := getenv("INCLUDE_BULLETINS"); v != "" {
		c.Remote.IncludeBulletins = strings.ToLower(v) == "true"
	}
	if v := getenv("CHECKPOINT_ENABLED"); v != "" {
		c.Checkpoint.Enabled = strings.ToLower(v) == "true"
	}
	if v := getenv("CHECKPOINT_PATH"); v != "" {
		c.Checkpoint.Path = v
	}
	if v := getenv("CONCURRENT_DOWNLOADS"); v != "" {
		var val int
		fmt.Sscanf(v, "%d", &val)
		if val > 0 {
			c.Download.ConcurrentDownloads = val
		}
	}
	if v := getenv("POLICY"); v != "" {
		c.Policy.Mode = v
	}
	if v := getenv("JOURNAL_PATH"); v != "" {
		c.Journal.Enabled = true
		c.Journal.Path = v
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}

	return errors.Join(errs...)
}

func getenv(key string) string {
	return strings.TrimSpace(os.Getenv(EnvPrefix + key))
}

// parseDelay accepts Go durations ("1500ms") as well as plain seconds ("2", "0.5")
func parseDelay(v string) (time.Duration, error) {
	if d, err := time.ParseDuration(v); err == nil {
		return d, nil
	}
	secs, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid delay %q", v)
	}
	return time.Duration(secs * float64(time.Second)), nil
}

// LoadFromFile loads configuration from a YAML file
func (c *Config) LoadFromFile(path string) error {
	if path == "" {
		path = c.findConfigFile()
		if path == "" {
			return nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// ConfigDir returns the per-user config directory
// (~/.config/coursedump on Linux, ~/Library/Application Support/coursedump on macOS)
func ConfigDir() string {
	return filepath.Join(xdg.ConfigHome, AppName)
}

// DataDir returns the per-user data directory, where encrypted sessions live
func DataDir() string {
	return filepath.Join(xdg.DataHome, AppName)
}

// findConfigFile searches for config file in standard locations
func (c *Config) findConfigFile() string {
	locations := []string{
		".coursedump.yaml",
		".coursedump.yml",
		filepath.Join(ConfigDir(), "config.yaml"),
		filepath.Join(ConfigDir(), "config.yml"),
		filepath.Join(xdg.Home, ".coursedump.yaml"),
	}

	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}

	return ""
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error

	if c.Remote.BaseURL == "" {
		errs = append(errs, errors.New("remote base URL is required"))
	} else if !strings.HasPrefix(c.Remote.BaseURL, "http://") && !strings.HasPrefix(c.Remote.BaseURL, "https://") {
		errs = append(errs, errors.New("remote base URL must start with http:// or https://"))
	}
	if c.Remote.Timeout <= 0 {
		errs = append(errs, errors.New("remote timeout must be positive"))
	}
	if !c.Remote.IncludeCourses && !c.Remote.IncludeProjects && !c.Remote.IncludeMessaging {
		errs = append(errs, errors.New("at least one of courses, projects or messaging must be included"))
	}

	if c.Crawl.RateLimitDelay < 0 {
		errs = append(errs, errors.New("rate limit delay cannot be negative"))
	}
	if c.Crawl.StartIndex < 0 {
		errs = append(errs, errors.New("start index cannot be negative"))
	}
	switch c.Crawl.Scope {
	case ScopeAll, ScopeContainersOnly, ScopeLeafMessagesOnly:
	default:
		errs = append(errs, fmt.Errorf("invalid scope %q", c.Crawl.Scope))
	}
	if c.Crawl.MaxPages < 0 || c.Crawl.MaxEmptyPages < 0 {
		errs = append(errs, errors.New("page limits cannot be negative"))
	}

	if c.Output.BaseDirectory == "" {
		errs = append(errs, errors.New("output directory is required"))
	}
	if c.Output.TextExtension != "" && !strings.HasPrefix(c.Output.TextExtension, ".") {
		errs = append(errs, errors.New("text extension must start with a dot"))
	}
	if c.Output.MaxPathLength < 0 {
		errs = append(errs, errors.New("max path length cannot be negative"))
	}

	if c.Retry.MaxAttempts < 0 {
		errs = append(errs, errors.New("max retry attempts cannot be negative"))
	}
	if c.Retry.Multiplier < 1 && c.Retry.Enabled {
		errs = append(errs, errors.New("retry multiplier must be at least 1"))
	}

	if c.Download.ConcurrentDownloads <= 0 {
		errs = append(errs, errors.New("concurrent downloads must be positive"))
	}
	if c.Download.ConcurrentDownloads > 10 {
		errs = append(errs, errors.New("concurrent downloads should not exceed 10"))
	}
	if c.Download.DownloadTimeout <= 0 {
		errs = append(errs, errors.New("download timeout must be positive"))
	}

	switch c.Policy.Mode {
	case PolicyInteractive, PolicyContinue, PolicyAbort:
	default:
		errs = append(errs, fmt.Errorf("invalid failure policy %q", c.Policy.Mode))
	}
	switch c.Policy.NonInteractiveDecision {
	case PolicyContinue, PolicyAbort:
	default:
		errs = append(errs, fmt.Errorf("invalid non-interactive decision %q", c.Policy.NonInteractiveDecision))
	}
	if c.Policy.MaxConsecutiveFailures < 0 {
		errs = append(errs, errors.New("max consecutive failures cannot be negative"))
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "disabled": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, errors.New("invalid log level"))
	}

	return errors.Join(errs...)
}

// Save saves the configuration to a file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// MergeCommandLineFlags merges command line flags into the configuration.
// Only keys present in the map are applied.
func (c *Config) MergeCommandLineFlags(flags map[string]interface{}) {
	if v, ok := flags["base-url"].(string); ok && v != "" {
		c.Remote.BaseURL = v
	}
	if v, ok := flags["profile"].(string); ok && v != "" {
		c.Remote.Profile = v
	}
	if v, ok := flags["output"].(string); ok && v != "" {
		c.Output.BaseDirectory = v
	}
	if v, ok := flags["text-extension"].(string); ok && v != "" {
		c.Output.TextExtension = v
	}
	if v, ok := flags["rate-limit-delay"].(time.Duration); ok {
		c.Crawl.RateLimitDelay = v
	}
	if v, ok := flags["resume"].(bool); ok {
		c.Crawl.Resume = v
	}
	if v, ok := flags["start-index"].(int); ok {
		c.Crawl.StartIndex = v
	}
	if v, ok := flags["scope"].(string); ok && v != "" {
		c.Crawl.Scope = v
	}
	if v, ok := flags["no-checkpoint"].(bool); ok && v {
		c.Checkpoint.Enabled = false
	}
	if v, ok := flags["checkpoint"].(string); ok && v != "" {
		c.Checkpoint.Path = v
	}
	if v, ok := flags["concurrent"].(int); ok && v > 0 {
		c.Download.ConcurrentDownloads = v
	}
	if v, ok := flags["on-failure"].(string); ok && v != "" {
		c.Policy.Mode = v
	}
	if v, ok := flags["max-failures"].(int); ok {
		c.Policy.MaxConsecutiveFailures = v
	}
	if v, ok := flags["journal"].(string); ok && v != "" {
		c.Journal.Enabled = true
		c.Journal.Path = v
	}
	if v, ok := flags["notifications"].(bool); ok {
		c.Notifications.Enabled = v
	}
	if v, ok := flags["log-level"].(string); ok && v != "" {
		c.Logging.Level = v
	}
	if v, ok := flags["log-file"].(string); ok && v != "" {
		c.Logging.File = v
	}
}

// Load loads configuration from all sources with proper precedence
// Precedence order: Command line flags > Environment variables > .env file > Config file > Defaults
func Load(configPath string, flags map[string]interface{}) (*Config, error) {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join(xdg.Home, ".coursedump.env"))

	config := DefaultConfig()

	if err := config.LoadFromFile(configPath); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	if err := config.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	config.MergeCommandLineFlags(flags)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}
