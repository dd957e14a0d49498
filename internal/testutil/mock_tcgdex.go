// Package testutil provides an in-process stand-in for the TCGdex and ECB
// services used by the snapshot job.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	basePath = "/v2/en"
	ratePath = "/service/data/EXR/D.USD.EUR.SP00.A"
)

// MockCard is one card served by MockTCGdex.
type MockCard struct {
	ID       string
	Name     string
	LocalID  string
	Official int
	Total    int

	// Avg1 is written verbatim as the JSON value of pricing.cardmarket.avg1;
	// empty omits the pricing block.
	Avg1    string
	Updated string

	// Status, when non-zero, is returned for the detail request instead of a body
	Status int

	// Body, when set, replaces the generated detail JSON
	Body string
}

// DetailJSON renders the card the way the TCGdex detail endpoint does.
func (c MockCard) DetailJSON() string {
	if c.Body != "" {
		return c.Body
	}

	detail := map[string]any{
		"id":      c.ID,
		"name":    c.Name,
		"localId": c.LocalID,
		"set": map[string]any{
			"cardCount": map[string]any{"official": c.Official, "total": c.Total},
		},
	}
	if c.Avg1 != "" {
		detail["pricing"] = map[string]any{
			"cardmarket": map[string]any{
				"avg1":    json.RawMessage(c.Avg1),
				"updated": c.Updated,
			},
		}
	}

	data, _ := json.Marshal(detail)
	return string(data)
}

// MockTCGdex is a configurable mock of the TCGdex catalog and the ECB rate
// service behind a single httptest server.
type MockTCGdex struct {
	server *httptest.Server
	mu     sync.RWMutex

	cards         []MockCard
	rateBody      string
	rateStatus    int
	listingStatus map[int]int
	delay         time.Duration

	// Tracking
	requests   map[string]int
	userAgents map[string]int
}

// NewMockTCGdex creates a mock serving an empty catalog and a rate of 1.10.
func NewMockTCGdex() *MockTCGdex {
	mock := &MockTCGdex{
		rateBody:      ECBRateCSV("1.10"),
		listingStatus: make(map[int]int),
		requests:      make(map[string]int),
		userAgents:    make(map[string]int),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(mock.serve))
	return mock
}

// URL returns the mock server URL.
func (m *MockTCGdex) URL() string {
	return m.server.URL
}

// BaseURL is the catalog base, the TCGDEX_BASE_URL equivalent.
func (m *MockTCGdex) BaseURL() string {
	return m.server.URL + basePath
}

// RateURL is the ECB_RATE_URL equivalent.
func (m *MockTCGdex) RateURL() string {
	return m.server.URL + ratePath + "?lastNObservations=1&format=csvdata"
}

// Close shuts down the mock server.
func (m *MockTCGdex) Close() {
	m.server.Close()
}

// Reset clears all tracking counters.
func (m *MockTCGdex) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = make(map[string]int)
	m.userAgents = make(map[string]int)
}

// AddCards appends cards to the catalog, in listing order.
func (m *MockTCGdex) AddCards(cards ...MockCard) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cards = append(m.cards, cards...)
}

// SetRate serves body from the rate endpoint with status 200.
func (m *MockTCGdex) SetRate(body string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rateBody = body
	m.rateStatus = 0
}

// SetRateStatus makes the rate endpoint answer with status.
func (m *MockTCGdex) SetRateStatus(status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rateStatus = status
}

// SetListingStatus makes the given 1-based listing page answer with status.
func (m *MockTCGdex) SetListingStatus(page, status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listingStatus[page] = status
}

// SetDelay delays every response.
func (m *MockTCGdex) SetDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
}

// ListingRequests returns how many listing pages were requested.
func (m *MockTCGdex) ListingRequests() int {
	return m.count("listing")
}

// DetailRequests returns how many times the detail of id was requested.
func (m *MockTCGdex) DetailRequests(id string) int {
	return m.count("detail:" + id)
}

// RateRequests returns how many times the rate was requested.
func (m *MockTCGdex) RateRequests() int {
	return m.count("rate")
}

// TotalRequests returns the number of requests of any kind.
func (m *MockTCGdex) TotalRequests() int {
	return m.count("total")
}

// UserAgentSeen reports whether any request carried ua.
func (m *MockTCGdex) UserAgentSeen(ua string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.userAgents[ua] > 0
}

func (m *MockTCGdex) count(key string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.requests[key]
}

func (m *MockTCGdex) track(r *http.Request, key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests[key]++
	m.requests["total"]++
	m.userAgents[r.UserAgent()]++
}

func (m *MockTCGdex) serve(w http.ResponseWriter, r *http.Request) {
	m.mu.RLock()
	delay := m.delay
	m.mu.RUnlock()
	if delay > 0 {
		time.Sleep(delay)
	}

	switch {
	case r.URL.Path == ratePath:
		m.track(r, "rate")
		m.serveRate(w)
	case r.URL.Path == basePath+"/cards":
		m.track(r, "listing")
		m.serveListing(w, r)
	case strings.HasPrefix(r.URL.Path, basePath+"/cards/"):
		id := strings.TrimPrefix(r.URL.Path, basePath+"/cards/")
		m.track(r, "detail:"+id)
		m.serveDetail(w, id)
	default:
		m.track(r, "unknown")
		http.NotFound(w, r)
	}
}

func (m *MockTCGdex) serveRate(w http.ResponseWriter) {
	m.mu.RLock()
	body, status := m.rateBody, m.rateStatus
	m.mu.RUnlock()

	if status != 0 {
		w.WriteHeader(status)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Write([]byte(body))
}

func (m *MockTCGdex) serveListing(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err := strconv.Atoi(q.Get("pagination:page"))
	if err != nil || page < 1 {
		http.Error(w, `{"error":"bad page"}`, http.StatusBadRequest)
		return
	}
	size, err := strconv.Atoi(q.Get("pagination:itemsPerPage"))
	if err != nil || size < 1 {
		http.Error(w, `{"error":"bad page size"}`, http.StatusBadRequest)
		return
	}

	m.mu.RLock()
	status := m.listingStatus[page]
	start := (page - 1) * size
	var cards []MockCard
	if start < len(m.cards) {
		end := start + size
		if end > len(m.cards) {
			end = len(m.cards)
		}
		cards = append(cards, m.cards[start:end]...)
	}
	m.mu.RUnlock()

	if status != 0 {
		w.WriteHeader(status)
		return
	}

	stubs := make([]map[string]string, 0, len(cards))
	for _, c := range cards {
		stubs = append(stubs, map[string]string{"id": c.ID, "localId": c.LocalID, "name": c.Name})
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	json.NewEncoder(w).Encode(stubs)
}

func (m *MockTCGdex) serveDetail(w http.ResponseWriter, id string) {
	m.mu.RLock()
	var card *MockCard
	for i := range m.cards {
		if m.cards[i].ID == id {
			c := m.cards[i]
			card = &c
			break
		}
	}
	m.mu.RUnlock()

	if card == nil {
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
		return
	}
	if card.Status != 0 {
		w.WriteHeader(card.Status)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Write([]byte(card.DetailJSON()))
}

// ECBRateCSV renders an ECB csvdata response carrying a single observation.
func ECBRateCSV(rate string) string {
	return fmt.Sprintf("KEY,FREQ,CURRENCY,CURRENCY_DENOM,EXR_TYPE,EXR_SUFFIX,TIME_PERIOD,OBS_VALUE,OBS_STATUS,OBS_CONF,OBS_PRE_BREAK,OBS_COM,TIME_FORMAT,BREAKS,COLLECTION,COMPILING_ORG,DISS_ORG,DOM_SER_IDS,PUBL_ECB,PUBL_MU,PUBL_PUBLIC,UNIT_INDEX_BASE,COMPILATION,COVERAGE,DECIMALS,NAT_TITLE,SOURCE_AGENCY,SOURCE_PUB,TITLE,TITLE_COMPL,UNIT,UNIT_MULT\n"+
		"EXR.D.USD.EUR.SP00.A,D,USD,EUR,SP00,A,2026-10-16,%s,A,F,,,P1D,,A,,,,,,,,,,4,,4F0,,US dollar/Euro,\"ECB reference exchange rate, US dollar/Euro, 2:15 pm (C.E.T.)\",USD,0\n", rate)
}
