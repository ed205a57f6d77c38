// internal/knowledge/pagination.go

package knowledge

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/valpere/FetchPilot/internal/utils"
)

// Pagination parameter types.
const (
	ParamTypePage   = "page"
	ParamTypeOffset = "offset"
	ParamTypeCursor = "cursor"
	ParamTypeToken  = "token"
)

// Pagination parameter locations.
const (
	LocationQuery = "query"
	LocationPath  = "path"
	LocationBody  = "body"
)

// validationSuccesses is how many recorded successes promote a discovered
// pattern to validated.
const validationSuccesses = 3

// PaginationParam describes the parameter that advances pages.
type PaginationParam struct {
	Name          string `json:"name"`
	Type          string `json:"type"` // page, offset, cursor, token
	Start         string `json:"start"`
	Increment     int    `json:"increment,omitempty"`
	Location      string `json:"location"` // query, path, body
	NextValuePath string `json:"next_value_path,omitempty"`
}

// ResponseStructure describes where the paged data and pagination metadata
// live in the response.
type ResponseStructure struct {
	DataPath       string `json:"data_path"`
	TotalCountPath string `json:"total_count_path,omitempty"`
	HasMorePath    string `json:"has_more_path,omitempty"`
	NextCursorPath string `json:"next_cursor_path,omitempty"`
	ItemsPerPage   int    `json:"items_per_page,omitempty"`
}

// PaginationApiPattern is a learned or preset description of the API behind a
// paginated listing.
type PaginationApiPattern struct {
	ID       string            `json:"id"`
	Domain   string            `json:"domain"`
	BaseURL  string            `json:"base_url"` // without the pagination parameter
	Method   string            `json:"method"`
	Param    PaginationParam   `json:"param"`
	Response ResponseStructure `json:"response_structure"`

	Successes   int       `json:"successes"`
	Failures    int       `json:"failures"`
	Validated   bool      `json:"validated"`
	Preset      bool      `json:"preset,omitempty"`
	TimeSavedMs int64     `json:"time_saved_ms,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	LastUsed    time.Time `json:"last_used,omitempty"`
}

// CapturedRequest is one network request observed during a browsing session.
type CapturedRequest struct {
	URL          string `json:"url"`
	Method       string `json:"method"`
	ContentType  string `json:"content_type"`
	ResponseBody string `json:"response_body"`
}

// AnalysisContext is the evidence from one session known to paginate.
type AnalysisContext struct {
	PageURLs []string          `json:"page_urls"`
	Requests []CapturedRequest `json:"requests"`
}

// AnalysisResult is the outcome of pagination discovery.
type AnalysisResult struct {
	Detected   bool                  `json:"detected"`
	Pattern    *PaginationApiPattern `json:"pattern,omitempty"`
	Confidence float64               `json:"confidence"`
	Reasons    []string              `json:"reasons"`
}

// Parameter names that signal pagination, mapped to their type.
var paginationParamTypes = map[string]string{
	"page": ParamTypePage, "p": ParamTypePage, "pg": ParamTypePage, "pagenum": ParamTypePage,
	"offset": ParamTypeOffset, "start": ParamTypeOffset, "skip": ParamTypeOffset, "from": ParamTypeOffset,
	"cursor": ParamTypeCursor, "after": ParamTypeCursor, "next": ParamTypeCursor,
	"token": ParamTypeToken, "pagetoken": ParamTypeToken, "page_token": ParamTypeToken,
	"continuation": ParamTypeToken,
}

// Well-known JSON paths to the data array.
var dataArrayPaths = []string{
	"data", "items", "results", "records", "entries", "hits", "list",
	"products", "posts", "articles", "data.items", "data.results",
}

// Well-known pagination metadata fields.
var hasMorePaths = []string{"has_more", "hasMore", "more", "has_next", "hasNext", "pagination.has_more"}
var nextCursorPaths = []string{"next_cursor", "nextCursor", "next_page_token", "nextPageToken", "paging.next", "links.next"}
var totalCountPaths = []string{"total", "total_count", "totalCount", "count", "total_results", "totalResults", "pagination.total"}

// Discovery detects pagination APIs from captured traffic and stores the
// resulting patterns, preset ones included.
type Discovery struct {
	mu       sync.RWMutex
	patterns map[string]*PaginationApiPattern // by id
	byDomain map[string][]string              // domain -> pattern ids
	path     string
	logger   utils.Logger
}

// NewDiscovery creates a pagination discovery store. A non-empty path enables
// Load/Save of pagination-patterns.json.
func NewDiscovery(path string, logger utils.Logger) *Discovery {
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	return &Discovery{
		patterns: make(map[string]*PaginationApiPattern),
		byDomain: make(map[string][]string),
		path:     path,
		logger:   logger,
	}
}

// candidate scores one captured request.
type candidate struct {
	request  CapturedRequest
	score    float64
	reasons  []string
	param    PaginationParam
	response ResponseStructure
	values   []string // observed param values across requests
}

// Analyze inspects a session's captured JSON traffic and, when it finds the
// API powering the pagination, emits a pattern. Scoring favours requests with
// a pagination-like parameter, a data array at a known path, and pagination
// metadata in the response.
func (d *Discovery) Analyze(ctx AnalysisContext) AnalysisResult {
	var best *candidate

	grouped := groupByBase(ctx.Requests)
	for _, group := range grouped {
		c := scoreGroup(group)
		if c == nil {
			continue
		}
		if best == nil || c.score > best.score {
			best = c
		}
	}

	if best == nil || best.score < 5 {
		return AnalysisResult{Detected: false, Reasons: []string{"no request scored as a pagination API"}}
	}

	pattern := d.buildPattern(best)
	d.mu.Lock()
	d.patterns[pattern.ID] = pattern
	d.byDomain[pattern.Domain] = append(d.byDomain[pattern.Domain], pattern.ID)
	d.mu.Unlock()

	return AnalysisResult{
		Detected:   true,
		Pattern:    pattern,
		Confidence: best.score / 7.0,
		Reasons:    best.reasons,
	}
}

// groupByBase groups requests by URL stripped of pagination-like parameters,
// so repeated calls to the same endpoint with changing page values land in
// one group.
func groupByBase(requests []CapturedRequest) map[string][]CapturedRequest {
	groups := make(map[string][]CapturedRequest)
	for _, r := range requests {
		base := stripPaginationParams(r.URL)
		groups[base] = append(groups[base], r)
	}
	return groups
}

func stripPaginationParams(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	q := u.Query()
	for name := range q {
		if _, ok := paginationParamTypes[strings.ToLower(name)]; ok {
			q.Del(name)
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// scoreGroup scores one endpoint group: +3 for a pagination parameter, +2 for
// a data array at a known path, +2 for pagination metadata.
func scoreGroup(group []CapturedRequest) *candidate {
	first := group[0]
	u, err := url.Parse(first.URL)
	if err != nil {
		return nil
	}

	c := &candidate{request: first}

	// Pagination-like query parameter, with values gathered across the group.
	var paramName, paramType string
	for name := range u.Query() {
		if ptype, ok := paginationParamTypes[strings.ToLower(name)]; ok {
			paramName, paramType = name, ptype
			break
		}
	}
	if paramName != "" {
		c.score += 3
		c.reasons = append(c.reasons, fmt.Sprintf("pagination parameter %q (%s)", paramName, paramType))
		for _, r := range group {
			if ru, err := url.Parse(r.URL); err == nil {
				if v := ru.Query().Get(paramName); v != "" {
					c.values = append(c.values, v)
				}
			}
		}
		c.param = PaginationParam{
			Name:     paramName,
			Type:     paramType,
			Location: LocationQuery,
		}
	}

	// Decode the response once and probe for structure.
	var root interface{}
	if err := json.Unmarshal([]byte(first.ResponseBody), &root); err != nil {
		return c
	}

	if path, items := findDataArray(root); path != "" {
		c.score += 2
		c.reasons = append(c.reasons, fmt.Sprintf("data array at %q", path))
		c.response.DataPath = path
		c.response.ItemsPerPage = items
	} else if arr, ok := root.([]interface{}); ok {
		c.score += 2
		c.reasons = append(c.reasons, "response is a bare array")
		c.response.ItemsPerPage = len(arr)
	}

	meta := false
	if p := findPath(root, hasMorePaths); p != "" {
		c.response.HasMorePath = p
		meta = true
	}
	if p := findPath(root, nextCursorPaths); p != "" {
		c.response.NextCursorPath = p
		c.param.NextValuePath = p
		meta = true
	}
	if p := findPath(root, totalCountPaths); p != "" {
		c.response.TotalCountPath = p
		meta = true
	}
	if meta {
		c.score += 2
		c.reasons = append(c.reasons, "pagination metadata present")
	}

	return c
}

func findDataArray(root interface{}) (string, int) {
	for _, path := range dataArrayPaths {
		segs, err := ParsePath(path)
		if err != nil {
			continue
		}
		if v, ok := Resolve(root, segs); ok {
			if arr, ok := v.([]interface{}); ok {
				return path, len(arr)
			}
		}
	}
	return "", 0
}

func findPath(root interface{}, paths []string) string {
	for _, path := range paths {
		segs, err := ParsePath(path)
		if err != nil {
			continue
		}
		if _, ok := Resolve(root, segs); ok {
			return path
		}
	}
	return ""
}

// buildPattern turns the winning candidate into a stored pattern, inferring
// the start value and increment from the observed parameter values.
func (d *Discovery) buildPattern(c *candidate) *PaginationApiPattern {
	method := c.request.Method
	if method == "" {
		method = "GET"
	}

	param := c.param
	if param.Type == ParamTypePage || param.Type == ParamTypeOffset {
		start, increment := inferProgression(c.values, c.response.ItemsPerPage, param.Type)
		param.Start = start
		param.Increment = increment
	} else if len(c.values) > 0 {
		param.Start = c.values[0]
	}

	return &PaginationApiPattern{
		ID:        uuid.NewString(),
		Domain:    utils.Hostname(c.request.URL),
		BaseURL:   stripPaginationParams(c.request.URL),
		Method:    method,
		Param:     param,
		Response:  c.response,
		CreatedAt: time.Now(),
	}
}

// inferProgression derives start and increment from numeric observed values.
func inferProgression(values []string, itemsPerPage int, paramType string) (string, int) {
	nums := make([]int, 0, len(values))
	for _, v := range values {
		if n, err := strconv.Atoi(v); err == nil {
			nums = append(nums, n)
		}
	}
	sort.Ints(nums)

	start := "1"
	increment := 1
	if paramType == ParamTypeOffset {
		start = "0"
		if itemsPerPage > 0 {
			increment = itemsPerPage
		}
	}
	if len(nums) > 0 {
		start = strconv.Itoa(nums[0])
	}
	if len(nums) >= 2 {
		if diff := nums[1] - nums[0]; diff > 0 {
			increment = diff
		}
	}
	return start, increment
}

// AddPreset injects a pattern for a well-known host. Presets skip observation
// and count as validated.
func (d *Discovery) AddPreset(pattern *PaginationApiPattern) {
	if pattern.ID == "" {
		pattern.ID = uuid.NewString()
	}
	if pattern.Domain == "" {
		pattern.Domain = utils.Hostname(pattern.BaseURL)
	}
	if pattern.Method == "" {
		pattern.Method = "GET"
	}
	pattern.Preset = true
	pattern.Validated = true
	if pattern.CreatedAt.IsZero() {
		pattern.CreatedAt = time.Now()
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.patterns[pattern.ID] = pattern
	d.byDomain[pattern.Domain] = append(d.byDomain[pattern.Domain], pattern.ID)
}

// FindMatchingPattern resolves a URL to a stored pattern whose base URL
// shares the same host and path prefix. Validated patterns win ties.
func (d *Discovery) FindMatchingPattern(rawURL string) *PaginationApiPattern {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil
	}
	domain := strings.ToLower(u.Hostname())

	d.mu.RLock()
	defer d.mu.RUnlock()

	var best *PaginationApiPattern
	for _, id := range d.byDomain[domain] {
		p := d.patterns[id]
		pu, err := url.Parse(p.BaseURL)
		if err != nil {
			continue
		}
		if !strings.HasPrefix(u.EscapedPath(), pu.EscapedPath()) {
			continue
		}
		if best == nil || (p.Validated && !best.Validated) {
			best = p
		}
	}
	return best
}

// Get returns a pattern by id.
func (d *Discovery) Get(id string) (*PaginationApiPattern, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.patterns[id]
	return p, ok
}

// DomainPatterns returns all patterns for a domain.
func (d *Discovery) DomainPatterns(domain string) []*PaginationApiPattern {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*PaginationApiPattern, 0, len(d.byDomain[domain]))
	for _, id := range d.byDomain[domain] {
		out = append(out, d.patterns[id])
	}
	return out
}

// GeneratePageURL builds the URL for a given page value. Only query-located
// parameters can be generated; path and body locations need the strategy
// layer.
func GeneratePageURL(p *PaginationApiPattern, value string) (string, error) {
	if p.Param.Location != LocationQuery {
		return "", fmt.Errorf("cannot generate URL for %s-located parameter", p.Param.Location)
	}
	u, err := url.Parse(p.BaseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base URL %q: %w", p.BaseURL, err)
	}
	q := u.Query()
	q.Set(p.Param.Name, value)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// NextPageValue advances a page/offset value deterministically. Cursor and
// token parameters advance from response data, not arithmetic; use
// NextCursorFromResponse for those.
func NextPageValue(p *PaginationApiPattern, current string) (string, error) {
	switch p.Param.Type {
	case ParamTypePage, ParamTypeOffset:
		n, err := strconv.Atoi(current)
		if err != nil {
			return "", fmt.Errorf("non-numeric %s value %q", p.Param.Type, current)
		}
		increment := p.Param.Increment
		if increment <= 0 {
			increment = 1
		}
		return strconv.Itoa(n + increment), nil
	default:
		return "", fmt.Errorf("%s parameters advance from response data", p.Param.Type)
	}
}

// NextCursorFromResponse extracts the next cursor/token value from a decoded
// JSON response using the pattern's next-value path.
func NextCursorFromResponse(p *PaginationApiPattern, root interface{}) (string, bool) {
	if p.Param.NextValuePath == "" {
		return "", false
	}
	segs, err := ParsePath(p.Param.NextValuePath)
	if err != nil {
		return "", false
	}
	return ResolveString(root, segs)
}

// RecordUsage feeds one direct-pagination outcome back into the pattern.
// Three successes validate a discovered pattern.
func (d *Discovery) RecordUsage(patternID string, success bool, responseTime time.Duration, items int, timeSaved time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()

	p, ok := d.patterns[patternID]
	if !ok {
		return
	}
	p.LastUsed = time.Now()
	if success {
		p.Successes++
		p.TimeSavedMs += timeSaved.Milliseconds()
		if items > 0 && p.Response.ItemsPerPage == 0 {
			p.Response.ItemsPerPage = items
		}
		if p.Successes >= validationSuccesses {
			p.Validated = true
		}
	} else {
		p.Failures++
	}
}

// discoveryFile is the on-disk shape of pagination-patterns.json.
type discoveryFile struct {
	Version  int                              `json:"version"`
	Patterns map[string]*PaginationApiPattern `json:"patterns"`
	Domains  map[string][]string              `json:"domains"`
}

// Save snapshots the pattern store atomically.
func (d *Discovery) Save() error {
	if d.path == "" {
		return nil
	}

	d.mu.RLock()
	file := discoveryFile{Version: storeVersion, Patterns: d.patterns, Domains: d.byDomain}
	data, err := json.MarshalIndent(&file, "", "  ")
	d.mu.RUnlock()
	if err != nil {
		return utils.WrapError(err, utils.ErrCodePersistenceIO, "failed to encode pagination patterns")
	}

	if err := utils.WriteFileAtomic(d.path, data, 0o644); err != nil {
		return utils.WrapError(err, utils.ErrCodePersistenceIO, "failed to write pagination patterns")
	}
	return nil
}

// Load replaces in-memory patterns from the JSON snapshot.
func (d *Discovery) Load() error {
	if d.path == "" {
		return nil
	}

	data, err := os.ReadFile(d.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return utils.WrapError(err, utils.ErrCodePersistenceIO, "failed to read pagination patterns")
	}

	var file discoveryFile
	if err := json.Unmarshal(data, &file); err != nil {
		return utils.WrapError(err, utils.ErrCodePersistenceIO, "failed to decode pagination patterns")
	}
	if file.Version != storeVersion {
		return utils.NewError(utils.ErrCodePersistenceIO,
			fmt.Sprintf("unsupported pagination pattern version %d", file.Version))
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.patterns = file.Patterns
	d.byDomain = file.Domains
	if d.patterns == nil {
		d.patterns = make(map[string]*PaginationApiPattern)
	}
	if d.byDomain == nil {
		d.byDomain = make(map[string][]string)
	}
	return nil
}
