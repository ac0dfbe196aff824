package format

import "regexp"

// regexFormat implements Format for a single fixed regular expression.
// It is the base for every non-W3C format in the registry (common,
// ncsa_extended, s3, elb, ovh, and the load-balancer formats).
type regexFormat struct {
	name           string
	regex          *regexp.Regexp
	dateFormat     string
	autoDetectable bool
	matched        map[string]string
}

const defaultDateFormat = "02/Jan/2006:15:04:05"

func newRegexFormat(name, pattern, dateFormat string) *regexFormat {
	df := dateFormat
	if df == "" {
		df = defaultDateFormat
	}
	return &regexFormat{
		name:           name,
		regex:          regexp.MustCompile(pattern),
		dateFormat:     df,
		autoDetectable: true,
	}
}

func (f *regexFormat) Name() string              { return f.name }
func (f *regexFormat) AutoDetectable() bool       { return f.autoDetectable }
func (f *regexFormat) DateFormat() string         { return f.dateFormat }
func (f *regexFormat) Regex() *regexp.Regexp      { return f.regex }
func (f *regexFormat) HeaderDriven() bool { return false }
func (f *regexFormat) BuildFromHeader([]string, string) bool {
	return false
}
func (f *regexFormat) Configure(map[string]string, map[string]string) error { return nil }

func (f *regexFormat) Match(line string) (bool, int) {
	names := f.regex.SubexpNames()
	m := f.regex.FindStringSubmatch(line)
	if m == nil {
		f.matched = nil
		return false, 0
	}
	groups := make(map[string]string, len(names))
	count := 0
	for i, name := range names {
		if i == 0 || name == "" {
			continue
		}
		groups[name] = m[i]
		count++
	}
	// "date"+"time" fields are joined the way the W3C family does it, kept
	// here too for a custom regex that declares both; no built-in regex
	// format has a "time" group.
	if t, ok := groups["time"]; ok {
		if d, ok := groups["date"]; ok {
			groups["date"] = d + " " + t
			delete(groups, "time")
		}
	}
	f.matched = groups
	return true, count
}

func (f *regexFormat) Get(field string) (string, error) {
	v, ok := f.matched[field]
	if !ok {
		return "", &MissingFieldError{Field: field}
	}
	return v, nil
}

func (f *regexFormat) GetAll() map[string]string {
	return f.matched
}

func (f *regexFormat) Remove(fields []string) {
	for _, field := range fields {
		delete(f.matched, field)
	}
}

// Field patterns shared across the common-log family, grounded in the
// PiwikPRO/log-analytics regex constants.
const (
	hostPrefix          = `(?P<host>[\w\-.]*)(?::\d+)?\s+`
	commonLogFormat     = `(?P<ip>[\w*.:-]+)\s+\S+\s+(?P<userid>\S+)\s+\[(?P<date>.*?)\s+(?P<timezone>.*?)\]\s+"(?P<method>\S+)\s+(?P<path>.*?)\s+\S+"\s+(?P<status>\d+)\s+(?P<length>\S+)`
	ncsaExtendedFormat  = commonLogFormat + `\s+"(?P<referrer>.*?)"\s+"(?P<user_agent>.*?)"`
	s3LogFormat         = `\S+\s+(?P<host>\S+)\s+\[(?P<date>.*?)\s+(?P<timezone>.*?)\]\s+(?P<ip>[\w*.:-]+)\s+(?P<userid>\S+)\s+\S+\s+\S+\s+\S+\s+"(?P<method>\S+)\s+(?P<path>.*?)\s+\S+"\s+(?P<status>\d+)\s+\S+\s+(?P<length>\S+)\s+\S+\s+\S+\s+\S+\s+"(?P<referrer>.*?)"\s+"(?P<user_agent>.*?)"`
	elbLogFormat        = `(?:\S+\s+)?(?P<date>[0-9-]+T[0-9:]+)\.\S+\s+\S+\s+(?P<ip>[\w*.:-]+):\d+\s+\S+:\d+\s+\S+\s+(?P<generation_time_secs>\S+)\s+\S+\s+(?P<status>\d+)\s+\S+\s+\S+\s+(?P<length>\S+)\s+"\S+\s+\w+://(?P<host>[\w\-.]*):\d+(?P<path>/\S*)\s+[^"]+"\s+"(?P<user_agent>[^"]+)"\s+\S+\s+\S+`
	ovhFormat           = `(?P<ip>\S+)\s+` + hostPrefix + `(?P<userid>\S+)\s+\[(?P<date>.*?)\s+(?P<timezone>.*?)\]\s+"\S+\s+(?P<path>.*?)\s+\S+"\s+(?P<status>\S+)\s+(?P<length>\S+)\s+"(?P<referrer>.*?)"\s+"(?P<user_agent>.*?)"`
	haproxyFormat       = `.*:\s(?P<ip>[\w*.]+).*\[(?P<date>.*)\].*\s(?P<status>\b\d{3}\b)\s(?P<length>\d+)\s-.*"(?P<method>\S+)\s(?P<path>\S+).*`
	gandiFormat         = `(?P<host>[0-9a-zA-Z\-_.]+)\s+(?P<ip>[a-zA-Z0-9.]+)\s+\S+\s+(?P<userid>\S+)\s+\[(?P<date>.+?)\s+(?P<timezone>.+?)\]\s+\((?P<generation_time_secs>[0-9a-zA-Z\s]*)\)\s+"(?P<method>[A-Z]+)\s+(?P<path>\S+)\s+(\S+)"\s+(?P<status>[0-9]+)\s+(?P<length>\S+)\s+"(?P<referrer>\S+)"\s+"(?P<user_agent>[^"]+)"`
	apacheCLFFormat     = `^(?P<ip>\S+) \S+ (?P<userid>[\S ]+) \[(?P<date>[^\]]+)\] "(?P<method>[A-Z\-]+) (?P<path>[^ "]+) (?:HTTP/[0-9.]+|-)" (?P<status>[0-9]{3}) (?P<length>[0-9]+|-)`
	albFormat           = `^\S+ (?P<date>\S+) (?P<elb>\S+) \S+ \S+ [\d.\-]+ [\d.\-]+ [\d.\-]+ (?P<status>\d{1,3}|-) \S+ \S+ \S+ "(?P<method>[A-Z\-]+) (?P<path>[^ "]+) (?:HTTP/[0-9.]+|-)" "(?P<user_agent>[^"]*)".*`
	nlbFormat           = `^\S+ \S+ (?P<date>\S+) (?P<elb>\S+) \S+ (?P<ip>[\w*.:-]+):\d+ \S+:\d+.*`
	clbFormat           = `^(?P<date>\S+) (?P<elb>\S+) (?P<ip>[\w*.:-]+):\d+ \S+ [\d.\-]+ [\d.\-]+ [\d.\-]+ (?P<status>\d{1,3}|-) \S+ \S+ \S+ "(?P<method>[A-Z\-]+) (?P<path>[^ "]+) (?:HTTP/[0-9.]+|-)"`
)

// NewCommon returns the Apache/NCSA "common" log format.
func NewCommon() Format { return newRegexFormat("common", "^"+commonLogFormat+"$", "") }

// NewCommonVhost returns the "common" format prefixed with a virtual host.
func NewCommonVhost() Format {
	return newRegexFormat("common_vhost", "^"+hostPrefix+commonLogFormat+"$", "")
}

// NewNCSAExtended returns the combined/NCSA-extended log format (adds
// referrer and user-agent to "common").
func NewNCSAExtended() Format {
	return newRegexFormat("ncsa_extended", "^"+ncsaExtendedFormat+"$", "")
}

// NewCommonComplete combines vhost prefixing with the NCSA-extended fields.
func NewCommonComplete() Format {
	return newRegexFormat("common_complete", "^"+hostPrefix+ncsaExtendedFormat+"$", "")
}

// NewS3 returns the Amazon S3 access log format.
func NewS3() Format { return newRegexFormat("s3", "^"+s3LogFormat+"$", "") }

// NewELB returns the AWS (Classic/Application) Elastic Load Balancer
// access log format, ISO-8601 timestamped.
func NewELB() Format { return newRegexFormat("elb", "^"+elbLogFormat+"$", "2006-01-02T15:04:05") }

// NewOVH returns the OVH hosting log format. It is intentionally excluded
// from auto-detection (spec §4.1) because its pattern is broad enough to
// shadow other formats.
func NewOVH() Format {
	f := newRegexFormat("ovh", "^"+ovhFormat+"$", "")
	f.autoDetectable = false
	return f
}

// NewHAProxy returns the HAProxy log format.
func NewHAProxy() Format {
	return newRegexFormat("haproxy", "^"+haproxyFormat+"$", "02/Jan/2006:15:04:05.000")
}

// NewGandi returns the Gandi Simple Hosting log format.
func NewGandi() Format { return newRegexFormat("gandi", "^"+gandiFormat+"$", "") }

// NewApacheCLF returns the bare Apache Common Log Format, carried over
// from the teacher's own built-in regex parser.
func NewApacheCLF() Format { return newRegexFormat("apache_clf", apacheCLFFormat, "") }

// NewALB returns the AWS Application Load Balancer access log format,
// carried over from the teacher's built-in ALB regex parser.
func NewALB() Format { return newRegexFormat("alb", albFormat, "2006-01-02T15:04:05.000000Z") }

// NewNLB returns the AWS Network Load Balancer access log format.
func NewNLB() Format { return newRegexFormat("nlb", nlbFormat, "2006-01-02T15:04:05.0000000Z") }

// NewCLB returns the AWS Classic Load Balancer access log format.
func NewCLB() Format { return newRegexFormat("clb", clbFormat, "2006-01-02T15:04:05.000000Z") }
