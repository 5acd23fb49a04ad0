package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/jacktea/xpaste/pkg/access"
	"github.com/jacktea/xpaste/pkg/blob"
	"github.com/jacktea/xpaste/pkg/meta"
	"github.com/jacktea/xpaste/pkg/metrics"
	"github.com/jacktea/xpaste/pkg/paste"
	"github.com/jacktea/xpaste/pkg/render"
	"github.com/jacktea/xpaste/pkg/repository"
)

type app struct {
	log     *slog.Logger
	blobs   blob.Store
	records meta.Store
	repo    *repository.Repository
	site    render.Site
	maxSize int64
	cleanup func()
}

func (a *app) ensureBackend() error {
	if a.repo != nil {
		return nil
	}
	logger, err := buildLogger(viper.GetString("log.level"), viper.GetString("log.format"))
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	blobOpts, err := blobOptions(viper.GetString("compression"), viper.GetBool("encrypt"), viper.GetString("key"))
	if err != nil {
		return err
	}
	blobs, err := buildBlobStore(viper.GetString("storage_provider"), storageOptions{
		Root:         viper.GetString("root"),
		Endpoint:     viper.GetString("storage_endpoint"),
		Bucket:       viper.GetString("storage_bucket"),
		Prefix:       viper.GetString("storage_prefix"),
		Region:       viper.GetString("storage_region"),
		AccessKey:    viper.GetString("storage_access_key"),
		SecretKey:    viper.GetString("storage_secret_key"),
		SessionToken: viper.GetString("storage_session_token"),
		Blob:         blobOpts,
	})
	if err != nil {
		return fmt.Errorf("storage config: %w", err)
	}
	records, err := buildMetaStore(viper.GetString("meta_backend"), metaOptions{
		Path:        viper.GetString("meta"),
		RedisAddr:   viper.GetString("redis_addr"),
		RedisPrefix: viper.GetString("redis_prefix"),
	})
	if err != nil {
		return fmt.Errorf("metadata config: %w", err)
	}
	repo, err := repository.New(blobs, records, repository.Options{CacheEntries: viper.GetInt("cache_entries")})
	if err != nil {
		records.Close()
		return fmt.Errorf("init repository: %w", err)
	}
	maxSize, err := parseMaxSize(viper.GetString("max_size"))
	if err != nil {
		records.Close()
		return err
	}

	a.log = logger
	a.blobs = blobs
	a.records = records
	a.repo = repo
	a.maxSize = maxSize
	a.site = render.Site{
		Title:   viper.GetString("title"),
		Label:   viper.GetString("label"),
		URL:     viper.GetString("url"),
		WebRoot: viper.GetString("webroot"),
		MaxSize: maxSize,
	}
	a.cleanup = func() { _ = records.Close() }
	return nil
}

// service builds the pipelines over the shared repository.
func (a *app) service(m metrics.Metrics) *paste.Service {
	return paste.New(a.repo, paste.Options{
		MaxSize:          a.maxSize,
		ConcealForbidden: viper.GetBool("conceal_forbidden"),
		Access:           access.DefaultParams,
		Logger:           a.log,
		Metrics:          m,
	})
}

func (a *app) close() {
	if a.cleanup != nil {
		a.cleanup()
		a.cleanup = nil
	}
}

var (
	cfgFile     string
	application = &app{}
	rootCmd     = &cobra.Command{
		Use:           "xpaste",
		Short:         "xpaste content-addressed paste service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return application.ensureBackend()
		},
	}
)

func init() {
	cobra.OnInitialize(initConfig)
	initRootFlags()
	initCommands()
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	application.close()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("xpaste")
		viper.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "xpaste"))
		}
	}
	viper.SetEnvPrefix("XPASTE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()
	if err := viper.ReadInConfig(); err != nil {
		var nf viper.ConfigFileNotFoundError
		if !errors.As(err, &nf) {
			fmt.Fprintf(os.Stderr, "read config: %v\n", err)
		}
	}
}

func bindConfig(key string, flag *pflag.Flag) {
	if err := viper.BindPFlag(key, flag); err != nil {
		panic(err)
	}
}

func initRootFlags() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (TOML or YAML)")

	flags.String("title", "xpaste", "site title shown on every page")
	flags.String("label", "a content-addressed pastebin", "site tagline")
	flags.String("url", "http://localhost:8080", "public base URL used in links")
	flags.String("webroot", "/", "path prefix the service is mounted under")

	flags.String("root", ".xpaste/blobs", "blob storage root (local provider)")
	flags.String("compression", "zstd", "blob codec: none|zstd|lz4")
	flags.Bool("encrypt", false, "encrypt blobs at rest")
	flags.String("key", "", "hex-encoded 32-byte key when encryption enabled")
	flags.String("max-size", "10MiB", "largest accepted upload (0 or unlimited disables)")
	flags.Int("cache-entries", 1024, "records kept in the lookup cache (negative disables)")
	flags.Bool("conceal-forbidden", false, "answer wrong or missing passwords as not found")

	flags.String("meta-backend", "bolt", "metadata backend: bolt|redis|memory")
	flags.String("meta", ".xpaste/meta.db", "path to the bolt metadata database")
	flags.String("redis-addr", "", "redis address or redis:// URL")
	flags.String("redis-prefix", "xpaste", "key prefix for redis metadata")

	flags.String("storage-provider", "local", "storage provider: local|s3")
	flags.String("storage-endpoint", "", "remote storage endpoint")
	flags.String("storage-bucket", "", "remote storage bucket name")
	flags.String("storage-prefix", "", "key prefix inside the bucket")
	flags.String("storage-region", "", "region (S3 only)")
	flags.String("storage-access-key", "", "remote storage access key")
	flags.String("storage-secret-key", "", "remote storage secret key")
	flags.String("storage-session-token", "", "remote storage session token (S3)")

	flags.String("log-level", "info", "log level: debug|info|warn|error")
	flags.String("log-format", "text", "log format: text|json")

	for key, name := range map[string]string{
		"title":                 "title",
		"label":                 "label",
		"url":                   "url",
		"webroot":               "webroot",
		"root":                  "root",
		"compression":           "compression",
		"encrypt":               "encrypt",
		"key":                   "key",
		"max_size":              "max-size",
		"cache_entries":         "cache-entries",
		"conceal_forbidden":     "conceal-forbidden",
		"meta_backend":          "meta-backend",
		"meta":                  "meta",
		"redis_addr":            "redis-addr",
		"redis_prefix":          "redis-prefix",
		"storage_provider":      "storage-provider",
		"storage_endpoint":      "storage-endpoint",
		"storage_bucket":        "storage-bucket",
		"storage_prefix":        "storage-prefix",
		"storage_region":        "storage-region",
		"storage_access_key":    "storage-access-key",
		"storage_secret_key":    "storage-secret-key",
		"storage_session_token": "storage-session-token",
		"log.level":             "log-level",
		"log.format":            "log-format",
	} {
		bindConfig(key, flags.Lookup(name))
	}
}

func initCommands() {
	rootCmd.AddCommand(
		newServeCmd(),
		newPutCmd(),
		newGetCmd(),
		newLsCmd(),
		newCheckCmd(),
		newServeS3Cmd(),
		newServeNFSCmd(),
		newMountFuseCmd(),
	)
}

func newPutCmd() *cobra.Command {
	var (
		password    string
		contentType string
		language    string
	)
	cmd := &cobra.Command{
		Use:   "put [file]",
		Short: "Store a file (or stdin) and print its link",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var src io.Reader = os.Stdin
			if len(args) == 1 && args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				src = f
			}
			opts := putOptions{ContentType: contentType, Language: language}
			if cmd.Flags().Changed("password") {
				opts.Password = &password
			}
			return doPut(cmd.Context(), application.service(metrics.Noop{}), application.site, src, os.Stdout, opts)
		},
	}
	cmd.Flags().StringVar(&password, "password", "", "protect the paste with a password")
	cmd.Flags().StringVar(&contentType, "type", "", "declared media type")
	cmd.Flags().StringVar(&language, "lang", "", "highlighting language added to the link")
	return cmd
}

func newGetCmd() *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:   "get <code>",
		Short: "Write the stored bytes of a paste to stdout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var pw *string
			if cmd.Flags().Changed("password") {
				pw = &password
			}
			return doGet(cmd.Context(), application.service(metrics.Noop{}), args[0], pw, os.Stdout)
		},
	}
	cmd.Flags().StringVar(&password, "password", "", "password for a protected paste")
	return cmd
}

func newLsCmd() *cobra.Command {
	var (
		after string
		limit int
	)
	cmd := &cobra.Command{
		Use:   "ls",
		Short: "List stored pastes in code order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return doList(cmd.Context(), application.repo, after, limit, os.Stdout)
		},
	}
	cmd.Flags().StringVar(&after, "after", "", "start after this code")
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum entries to print (0 for all)")
	return cmd
}

func newCheckCmd() *cobra.Command {
	var batch int
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Verify that every paste still has its stored content",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return doCheck(cmd.Context(), application, batch, os.Stdout)
		},
	}
	cmd.Flags().IntVar(&batch, "batch", 128, "records fetched per metadata page")
	return cmd
}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the paste site over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), application, serveOptions{
				Addr:    viper.GetString("serve.addr"),
				APIKey:  viper.GetString("serve.api_key"),
				Metrics: viper.GetBool("serve.metrics"),
			})
		},
	}
	cmd.Flags().String("addr", ":8080", "listen address")
	cmd.Flags().String("api-key", "", "require API key (X-API-Key or Bearer token) on uploads")
	cmd.Flags().Bool("metrics", true, "expose Prometheus metrics at /metrics")
	bindConfig("serve.addr", cmd.Flags().Lookup("addr"))
	bindConfig("serve.api_key", cmd.Flags().Lookup("api-key"))
	bindConfig("serve.metrics", cmd.Flags().Lookup("metrics"))
	return cmd
}

func newServeS3Cmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve-s3",
		Short: "Expose public pastes through a read-only S3 gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServeS3(cmd.Context(), application.repo, s3ServeOptions{
				Addr:   viper.GetString("serve_s3.addr"),
				Bucket: viper.GetString("serve_s3.bucket"),
				APIKey: viper.GetString("serve_s3.api_key"),
			})
		},
	}
	cmd.Flags().String("addr", ":9000", "listen address")
	cmd.Flags().String("bucket", "pastes", "bucket name exposed via gateway")
	cmd.Flags().String("api-key", "", "require API key (X-API-Key header)")
	bindConfig("serve_s3.addr", cmd.Flags().Lookup("addr"))
	bindConfig("serve_s3.bucket", cmd.Flags().Lookup("bucket"))
	bindConfig("serve_s3.api_key", cmd.Flags().Lookup("api-key"))
	return cmd
}

func newServeNFSCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve-nfs",
		Short: "Export public pastes read-only over NFS",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServeNFS(cmd.Context(), application.repo, nfsServeOptions{
				Addr:        viper.GetString("serve_nfs.addr"),
				HandleCache: viper.GetInt("serve_nfs.handle_cache"),
			})
		},
	}
	cmd.Flags().String("addr", ":2049", "listen address")
	cmd.Flags().Int("handle-cache", 1024, "number of cached NFS file handles")
	bindConfig("serve_nfs.addr", cmd.Flags().Lookup("addr"))
	bindConfig("serve_nfs.handle_cache", cmd.Flags().Lookup("handle-cache"))
	return cmd
}

func newMountFuseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mount-fuse",
		Short: "Mount public pastes read-only via FUSE",
		RunE: func(cmd *cobra.Command, args []string) error {
			mountpoint := viper.GetString("mount_fuse.mountpoint")
			if mountpoint == "" {
				return errors.New("--mountpoint is required")
			}
			return runMountFuse(cmd.Context(), application.repo, mountpoint, viper.GetBool("mount_fuse.debug"))
		},
	}
	cmd.Flags().String("mountpoint", "", "directory to mount the pastes at")
	cmd.Flags().Bool("debug", false, "log FUSE requests")
	bindConfig("mount_fuse.mountpoint", cmd.Flags().Lookup("mountpoint"))
	bindConfig("mount_fuse.debug", cmd.Flags().Lookup("debug"))
	return cmd
}
