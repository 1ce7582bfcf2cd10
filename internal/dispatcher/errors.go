package dispatcher

import "regexp"

var keyValuePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(password|pwd|passwd)=[^;&?\s]*`),
	regexp.MustCompile(`(?i)(secret|token|key)=[^;&?\s]*`),
}

var urlUserinfoPattern = regexp.MustCompile(`://[^:/@\s]+:[^@\s]*@`)

// sanitizeError strips connection-string credentials out of an error
// message before it reaches the client, since connect errors otherwise echo
// the dsn/url the caller supplied verbatim.
func sanitizeError(msg string) string {
	result := msg
	for _, re := range keyValuePatterns {
		result = re.ReplaceAllString(result, "${1}=***")
	}
	result = urlUserinfoPattern.ReplaceAllString(result, "://***:***@")
	return result
}
