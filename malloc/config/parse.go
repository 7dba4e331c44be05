package config

import (
	"os"
	"strconv"

	"github.com/joshuapare/mallockit/internal/diag"
)

// Diagnostic messages shared by the typed handlers.
const (
	diagInvalidValue = "invalid conf value"
	diagOutOfRange   = "out-of-range conf value"
	diagInvalidPair  = "invalid conf pair"
	diagDSSError     = "error setting dss"
)

// DefaultConfPath is the well-known configuration symlink. Its link target,
// not the file it points at, is the conf string.
const DefaultConfPath = "/etc/malloc.conf"

// DefaultEnvVar names the environment variable conf source.
const DefaultEnvVar = "MALLOC_CONF"

// Sources describes the three conf sources in increasing precedence.
type Sources struct {
	// Build is the conf string compiled into the program, if any.
	Build string

	// ConfPath is the configuration symlink path; empty means
	// DefaultConfPath.
	ConfPath string

	// EnvVar is the environment variable name; empty means DefaultEnvVar.
	EnvVar string

	// ReadLink resolves the symlink target. nil means os.Readlink.
	// Platforms without symlink support can leave resolution failing;
	// the source is silently skipped.
	ReadLink func(string) (string, error)

	// LookupEnv reads the environment. nil means os.LookupEnv.
	LookupEnv func(string) (string, bool)
}

// resolve returns the three conf strings in parse order. Missing sources
// come back empty, which the parser treats as a clean end of input.
func (s *Sources) resolve() [3]string {
	readLink := s.ReadLink
	if readLink == nil {
		readLink = os.Readlink
	}
	lookupEnv := s.LookupEnv
	if lookupEnv == nil {
		lookupEnv = os.LookupEnv
	}
	confPath := s.ConfPath
	if confPath == "" {
		confPath = DefaultConfPath
	}
	envVar := s.EnvVar
	if envVar == "" {
		envVar = DefaultEnvVar
	}

	var out [3]string
	out[0] = s.Build
	if target, err := readLink(confPath); err == nil {
		out[1] = target
	}
	if v, ok := lookupEnv(envVar); ok {
		out[2] = v
	}
	return out
}

// Parse resolves every source in precedence order into o, overwriting
// earlier sources key by key. setDSS commits the backing-store precedence to
// the chunk subsystem; the dss option only takes effect if setDSS accepts it.
// Parse never fails: bad entries are diagnosed and leave defaults in place.
func Parse(o *Options, src Sources, setDSS func(string) error) {
	for _, conf := range src.resolve() {
		parseOne(o, conf, setDSS)
	}
}

func parseOne(o *Options, conf string, setDSS func(string) error) {
	sc := scanner{s: conf}
	for {
		k, v, ok := sc.next()
		if !ok {
			return
		}
		switch k {
		case "abort":
			handleBool(&o.Abort, k, v)
		case "lg_chunk":
			handleSize(&o.LgChunk, k, v, LgChunkMin, LgChunkMax, true)
		case "dss":
			handleDSS(o, v, setDSS)
		case "narenas":
			handleSize(&o.NArenas, k, v, 1, ^uintptr(0), false)
		case "lg_dirty_mult":
			handleSSize(&o.LgDirtyMult, k, v, -1, 63)
		case "stats_print":
			handleBool(&o.StatsPrint, k, v)
		case "junk":
			handleBool(&o.Junk, k, v)
		case "zero":
			handleBool(&o.Zero, k, v)
		case "quarantine":
			handleSize(&o.Quarantine, k, v, 0, ^uintptr(0), false)
		case "redzone":
			handleBool(&o.Redzone, k, v)
		case "utrace":
			handleBool(&o.Utrace, k, v)
		case "xmalloc":
			handleBool(&o.Xmalloc, k, v)
		case "tcache":
			handleBool(&o.Tcache, k, v)
		case "lg_tcache_max":
			handleSSize(&o.LgTcacheMax, k, v, -1, 63)
		case "prof":
			handleBool(&o.Prof, k, v)
		case "prof_prefix":
			handleString(&o.ProfPrefix, v, ProfPrefixCap)
		case "prof_active":
			handleBool(&o.ProfActive, k, v)
		case "lg_prof_sample":
			handleSize(&o.LgProfSample, k, v, 0, 63, true)
		default:
			confError(diagInvalidPair, k, v)
		}
	}
}

func confError(msg, k, v string) {
	diag.Writef("%s: %s:%s", msg, k, v)
}

// handleBool accepts the exact literals true and false.
func handleBool(o *bool, k, v string) {
	switch v {
	case "true":
		*o = true
	case "false":
		*o = false
	default:
		confError(diagInvalidValue, k, v)
	}
}

// handleSize parses an unsigned value spanning the whole byte range of v.
// With clip set, out-of-range values saturate at min/max; otherwise they are
// diagnosed and the previous value stands.
func handleSize(o *uintptr, k, v string, min, max uintptr, clip bool) {
	um, err := strconv.ParseUint(v, 0, 64)
	if err != nil {
		confError(diagInvalidValue, k, v)
		return
	}
	if clip {
		switch {
		case min != 0 && uintptr(um) < min:
			*o = min
		case uintptr(um) > max:
			*o = max
		default:
			*o = uintptr(um)
		}
		return
	}
	if (min != 0 && uintptr(um) < min) || uintptr(um) > max {
		confError(diagOutOfRange, k, v)
		return
	}
	*o = uintptr(um)
}

// handleSSize parses a signed value; out of range is always rejected.
func handleSSize(o *int, k, v string, min, max int) {
	l, err := strconv.ParseInt(v, 0, 64)
	if err != nil {
		confError(diagInvalidValue, k, v)
		return
	}
	if int(l) < min || int(l) > max {
		confError(diagOutOfRange, k, v)
		return
	}
	*o = int(l)
}

// handleString copies at most cap bytes; overlong values are truncated, not
// rejected.
func handleString(o *string, v string, cap int) {
	if len(v) > cap {
		v = v[:cap]
	}
	*o = v
}

// handleDSS matches the value against the known precedence names and asks
// the backing subsystem to adopt it. The option is only committed when the
// setter succeeds, so a half-applied precedence can never be observed.
func handleDSS(o *Options, v string, setDSS func(string) error) {
	for _, name := range DSSPrecNames {
		if name != v {
			continue
		}
		if setDSS != nil {
			if err := setDSS(name); err != nil {
				confError(diagDSSError, "dss", v)
				return
			}
		}
		o.DSS = name
		return
	}
	confError(diagInvalidValue, "dss", v)
}
