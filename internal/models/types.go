package models

// WFPData is one decoded entry of a WFP file.
type WFPData struct {
	MD5      [16]byte
	MD5Hex   string
	Size     int // byte size from the file= line
	FilePath string
	Hashes   []uint32
	Lines    []uint32
}

// TotalLines returns the highest fingerprinted line number.
func (d *WFPData) TotalLines() int {
	n := 0
	for _, l := range d.Lines {
		if int(l) > n {
			n = int(l)
		}
	}
	return n
}

// Range is a matched block: lines From..To of the scanned file,
// aligned with the reference file starting at line Oss.
type Range struct {
	From int
	To   int
	Oss  int
}

// MatchInfo describes one candidate reference file.
type MatchInfo struct {
	FileMD5Hex string
	Hits       int
	Ranges     []Range
}

// ScanResult is what the engine returns for a single input.
type ScanResult struct {
	MatchType  MatchType
	MatchCount int
	Matches    []MatchInfo
	ErrorMsg   string
}

// MatchType classifies a scan result.
type MatchType int

const (
	MatchNone    MatchType = 0
	MatchFile    MatchType = 1
	MatchSnippet MatchType = 2
	MatchBinary  MatchType = 3
)

func (m MatchType) String() string {
	switch m {
	case MatchFile:
		return "FILE"
	case MatchSnippet:
		return "SNIPPET"
	case MatchBinary:
		return "BINARY"
	case MatchNone:
		return "NONE"
	default:
		return "UNKNOWN"
	}
}

// Output match types.
const (
	ResultFullFile = "full_file"
	ResultSnippet  = "code_snippet"
	ResultNoMatch  = "no_match"
)

// MatchResult is the per-file JSON output of a scan.
type MatchResult struct {
	MatchType     string  `json:"match_type"`
	TargetLines   string  `json:"target_lines,omitempty"`
	SourceLines   string  `json:"ref_file_lines,omitempty"`
	Instances     int     `json:"instances"`
	ReferenceURL  string  `json:"reference_url"`
	ReferenceFile string  `json:"reference_file"`
	Hits          int     `json:"-"`
	Ranges        []Range `json:"-"`
}

// NoMatch returns an empty no_match result.
func NoMatch() *MatchResult {
	return &MatchResult{MatchType: ResultNoMatch}
}

// FileRecord is the knowledge base entry for a known file.
type FileRecord struct {
	File      string `json:"file"`
	URL       string `json:"url"`
	Instances int    `json:"instances"`
}
