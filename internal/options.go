package internal

import (
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"

	"PlagiCheck/internal/wfp"
)

const (
	// MinFileSize files at or below this many bytes are not fingerprinted.
	MinFileSize = 100

	DefaultThreads        = 3
	DefaultMinHits        = 3
	DefaultRangeTolerance = 3
)

// md5OnlyExt files are identified by checksum only; snippets are not useful.
var md5OnlyExt = toSet([]string{
	".exe", ".bin", ".app", ".out", ".o", ".a", ".so", ".obj", ".dll", ".lib", ".dylib",
	".zip", ".tar", ".tgz", ".gz", ".7z", ".rar", ".bz2", ".xz", ".lz", ".lzma", ".z",
	".jar", ".war", ".ear", ".class",
	".png", ".jpg", ".jpeg", ".gif", ".bmp", ".ico", ".tiff", ".tif", ".webp", ".svg",
	".mp4", ".avi", ".mov", ".wmv", ".flv", ".mkv", ".webm", ".m4v",
	".mp3", ".wav", ".ogg", ".flac", ".aac", ".wma", ".m4a",
	".doc", ".docx", ".xls", ".xlsx", ".ppt", ".pptx", ".odt", ".ods", ".odp", ".pages", ".key", ".numbers", ".pdf",
	".pyc", ".pyo", ".pyd",
	".ttf", ".otf", ".woff", ".woff2", ".eot",
	".json", ".xml", ".yml", ".yaml", ".toml", ".ini", ".cfg", ".conf",
	".htm", ".html",
	".md", ".txt", ".rst", ".adoc",
	".dat", ".lst", ".mf", ".sum", ".db", ".sqlite", ".sqlite3",
})

// filteredExt files are skipped altogether.
var filteredExt = toSet([]string{
	".1", ".2", ".3", ".4", ".5", ".6", ".7", ".8", ".9", ".ac", ".adoc", ".am", ".asciidoc",
	".bmp", ".build", ".cfg", ".chm", ".class", ".cmake", ".cnf", ".conf", ".config",
	".contributors", ".copying", ".crt", ".csproj", ".css", ".csv", ".dat", ".data", ".doc",
	".docx", ".dtd", ".dts", ".iws", ".c9", ".c9revisions", ".dtsi", ".dump", ".eot", ".eps",
	".geojson", ".gdoc", ".gif", ".glif", ".gmo", ".gradle", ".guess", ".hex", ".htm", ".html",
	".ico", ".iml", ".in", ".inc", ".info", ".ini", ".ipynb", ".jpeg", ".jpg", ".json",
	".jsonld", ".lock", ".log", ".m4", ".map", ".markdown", ".md", ".md5", ".meta", ".mk",
	".mxml", ".o", ".otf", ".out", ".pbtxt", ".pdf", ".pem", ".phtml", ".plist", ".png", ".po",
	".ppt", ".prefs", ".properties", ".pyc", ".qdoc", ".result", ".rgb", ".rst", ".scss",
	".sha", ".sha1", ".sha2", ".sha256", ".sln", ".spec", ".sql", ".sub", ".svg", ".svn-base",
	".tab", ".template", ".test", ".tex", ".tiff", ".toml", ".ttf", ".txt", ".utf-8", ".vim",
	".wav", ".whl", ".woff", ".xht", ".xhtml", ".xls", ".xlsx", ".xml", ".xpm", ".xsd", ".xul",
	".yaml", ".yml", ".wfp", ".editorconfig", ".dotcover", ".pid", ".lcov", ".egg", ".manifest",
	".cache", ".coverage", ".cover", ".gem", ".lst", ".pickle", ".pdb", ".gml", ".pot", ".plt",
})

// WalkOptions controls which files are fingerprinted and how.
type WalkOptions struct {
	Threads    int
	Depth      int
	Archives   bool
	IgnoreFile string
	Whitelist  []string
	Blacklist  []string
	FailFast   bool

	whMap  map[string]struct{}
	blMap  map[string]struct{}
	ignore []Pattern
}

// ScanOptions - options for a scan run.
type ScanOptions struct {
	WalkOptions
	MinHits        int
	RangeTolerance int
}

// Validate checks invariants.
func (o *WalkOptions) Validate() error {
	if o.Threads < 0 {
		return errors.New("threads must not be negative")
	}
	if o.Depth < 0 {
		return errors.New("depth must not be negative")
	}
	return nil
}

// Prepare builds fast lookup structures, loads the ignore file and sets defaults.
func (o *WalkOptions) Prepare() error {
	o.whMap = toSet(o.Whitelist)
	o.blMap = toSet(o.Blacklist)
	if o.Threads <= 0 {
		o.Threads = max(DefaultThreads, runtime.GOMAXPROCS(0))
	}
	if o.IgnoreFile != "" {
		ps, err := LoadPatterns(o.IgnoreFile)
		if err != nil {
			return fmt.Errorf("ignore file: %w", err)
		}
		o.ignore = ps
	}
	return nil
}

func (o *ScanOptions) Validate() error {
	if err := o.WalkOptions.Validate(); err != nil {
		return err
	}
	if o.MinHits < 0 {
		return errors.New("min-hits must not be negative")
	}
	if o.RangeTolerance < 0 {
		return errors.New("range tolerance must not be negative")
	}
	return nil
}

func (o *ScanOptions) Prepare() error {
	if o.MinHits == 0 {
		o.MinHits = DefaultMinHits
	}
	if o.RangeTolerance == 0 {
		o.RangeTolerance = DefaultRangeTolerance
	}
	return o.WalkOptions.Prepare()
}

func toSet(s []string) map[string]struct{} {
	if len(s) == 0 {
		return nil
	}
	m := make(map[string]struct{}, len(s))
	for _, x := range s {
		m[x] = struct{}{}
	}
	return m
}

func (o *WalkOptions) useWhitelist() bool { return len(o.whMap) > 0 }

func (o *WalkOptions) allowedExt(ext string) bool {
	if o.useWhitelist() {
		_, ok := o.whMap[ext]
		return ok
	}
	if o.blMap == nil {
		return true
	}
	_, blocked := o.blMap[ext]
	return !blocked
}

func (o *WalkOptions) ignored(path string) bool {
	p, ok := matchAny(o.ignore, path)
	if ok {
		logrus.WithFields(logrus.Fields{"file": path, "pattern": p.Desc()}).Debug("ignored")
	}
	return ok
}

type fileClass int

const (
	classSkip fileClass = iota
	classMD5Only
	classSnippet
)

// classify decides what to do with a file found during a walk.
func (o *WalkOptions) classify(path string, size int64) fileClass {
	name := filepath.Base(path)
	if strings.HasPrefix(name, ".") || size <= MinFileSize || isMinified(name) {
		return classSkip
	}
	if !wfp.ValidPath(path) {
		logrus.WithField("file", fmt.Sprintf("%q", path)).Warn("Skip: line break in file name")
		return classSkip
	}
	ext := strings.ToLower(filepath.Ext(name))
	if !o.allowedExt(ext) || o.ignored(path) {
		return classSkip
	}
	if _, ok := filteredExt[ext]; ok {
		return classSkip
	}
	if _, ok := md5OnlyExt[ext]; ok {
		return classMD5Only
	}
	return classSnippet
}

// isMinified reports names like app.min.js.
func isMinified(name string) bool {
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	return len(stem) > 4 && strings.HasSuffix(stem, ".min")
}
