package tools

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"html"
	"io"
	"net/url"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
)

const (
	pubmedArticleURL = "https://pubmed.ncbi.nlm.nih.gov/%s/"
	pmcArticleURL    = "https://www.ncbi.nlm.nih.gov/pmc/articles/%s/"
)

var pmidPattern = regexp.MustCompile(`^\d{1,9}$`)

// Article is one literature-search hit.
type Article struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Venue string `json:"venue"`
	Date  string `json:"date"`
	URL   string `json:"url"`
}

// ArticleList is the literature-search output.
type ArticleList struct {
	Query   string    `json:"query"`
	Count   int       `json:"count"`
	Results []Article `json:"results"`
}

// FullText is the literature-fulltext output. Available is false when no
// open-access body exists; metadata and abstract are still filled in.
type FullText struct {
	ID        string `json:"id"`
	PMCID     string `json:"pmcid,omitempty"`
	URL       string `json:"url"`
	PMCURL    string `json:"pmc_url,omitempty"`
	Title     string `json:"title"`
	Venue     string `json:"venue"`
	Date      string `json:"date"`
	Abstract  string `json:"abstract"`
	FullText  string `json:"full_text"`
	Available bool   `json:"available"`
	Message   string `json:"message,omitempty"`
}

// NCBI talks to the Entrez E-utilities.
type NCBI struct {
	apiKey string
	fetch  *fetcher
}

// NewNCBI returns a client for the E-utilities at opts.BaseURL. A non-empty
// apiKey is sent with every request.
func NewNCBI(opts HTTPOptions, apiKey string) *NCBI {
	return &NCBI{apiKey: apiKey, fetch: newFetcher("ncbi", opts)}
}

func (n *NCBI) query(kv ...string) url.Values {
	q := url.Values{}
	for i := 0; i+1 < len(kv); i += 2 {
		q.Set(kv[i], kv[i+1])
	}
	if n.apiKey != "" {
		q.Set("api_key", n.apiKey)
	}
	return q
}

// Search runs ESearch then ESummary for term.
func (n *NCBI) Search(ctx context.Context, term string, max int) (*ArticleList, error) {
	body, err := n.fetch.get(ctx, "/esearch.fcgi", n.query(
		"db", "pubmed", "term", term, "retmode", "json", "retmax", fmt.Sprint(max)))
	if err != nil {
		return nil, fmt.Errorf("esearch: %w", err)
	}
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("esearch: malformed response")
	}
	if msg := gjson.GetBytes(body, "esearchresult.ERROR"); msg.Exists() {
		return nil, fmt.Errorf("esearch: %s", msg.String())
	}

	var ids []string
	for _, id := range gjson.GetBytes(body, "esearchresult.idlist").Array() {
		ids = append(ids, id.String())
	}
	list := &ArticleList{Query: term, Results: []Article{}}
	if len(ids) == 0 {
		return list, nil
	}

	body, err = n.fetch.get(ctx, "/esummary.fcgi", n.query(
		"db", "pubmed", "id", strings.Join(ids, ","), "retmode", "json"))
	if err != nil {
		return nil, fmt.Errorf("esummary: %w", err)
	}
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("esummary: malformed response")
	}
	result := gjson.GetBytes(body, "result")
	for _, uid := range result.Get("uids").Array() {
		id := uid.String()
		info := result.Get(id)
		list.Results = append(list.Results, Article{
			ID:    id,
			Title: info.Get("title").String(),
			Venue: info.Get("fulljournalname").String(),
			Date:  info.Get("pubdate").String(),
			URL:   fmt.Sprintf(pubmedArticleURL, id),
		})
	}
	list.Count = len(list.Results)
	return list, nil
}

// FullText resolves pmid to an open-access PMC record and extracts its body.
func (n *NCBI) FullText(ctx context.Context, pmid string) (*FullText, error) {
	body, err := n.fetch.get(ctx, "/elink.fcgi", n.query(
		"dbfrom", "pubmed", "db", "pmc", "id", pmid, "retmode", "xml"))
	if err != nil {
		return nil, fmt.Errorf("elink: %w", err)
	}
	pmcid, err := parsePMCID(body)
	if err != nil {
		return nil, fmt.Errorf("elink: %w", err)
	}

	body, err = n.fetch.get(ctx, "/efetch.fcgi", n.query("db", "pubmed", "id", pmid, "retmode", "xml"))
	if err != nil {
		return nil, fmt.Errorf("efetch pubmed: %w", err)
	}
	ft, err := parsePubmedArticle(body)
	if err != nil {
		return nil, fmt.Errorf("efetch pubmed: %w", err)
	}
	ft.ID = pmid
	ft.URL = fmt.Sprintf(pubmedArticleURL, pmid)

	if pmcid == "" {
		ft.Message = "No PMC full-text link found for this PMID."
		return ft, nil
	}
	ft.PMCID = pmcid
	ft.PMCURL = fmt.Sprintf(pmcArticleURL, pmcid)

	body, err = n.fetch.get(ctx, "/efetch.fcgi", n.query("db", "pmc", "id", pmcid, "retmode", "xml"))
	if err != nil {
		return nil, fmt.Errorf("efetch pmc: %w", err)
	}
	paras, hasBody, err := bodyParagraphs(body)
	if err != nil {
		return nil, fmt.Errorf("efetch pmc: %w", err)
	}
	switch {
	case !hasBody:
		ft.Message = "PMC record found but it has no body element."
	case len(paras) == 0:
		ft.Message = "PMC record found but its body is empty."
	default:
		ft.FullText = strings.Join(paras, "\n\n")
		ft.Available = true
	}
	return ft, nil
}

type elinkResult struct {
	LinkSets []struct {
		DBs []struct {
			LinkName string `xml:"LinkName"`
			Links    []struct {
				ID string `xml:"Id"`
			} `xml:"Link"`
		} `xml:"LinkSetDb"`
	} `xml:"LinkSet"`
}

// parsePMCID returns the first PMC id linked from a PubMed record, preferring
// the pubmed_pmc link set. "" means no link.
func parsePMCID(data []byte) (string, error) {
	var res elinkResult
	if err := xml.Unmarshal(data, &res); err != nil {
		return "", err
	}
	var first string
	for _, ls := range res.LinkSets {
		for _, db := range ls.DBs {
			for _, l := range db.Links {
				id := strings.TrimSpace(l.ID)
				if id == "" {
					continue
				}
				if !strings.HasPrefix(id, "PMC") {
					id = "PMC" + id
				}
				if db.LinkName == "pubmed_pmc" {
					return id, nil
				}
				if first == "" {
					first = id
				}
			}
		}
	}
	return first, nil
}

type pubmedArticleSet struct {
	Articles []struct {
		Article struct {
			Title   innerText `xml:"ArticleTitle"`
			Journal struct {
				Title   string `xml:"Title"`
				PubDate struct {
					Year        string `xml:"Year"`
					Month       string `xml:"Month"`
					Day         string `xml:"Day"`
					MedlineDate string `xml:"MedlineDate"`
				} `xml:"JournalIssue>PubDate"`
			} `xml:"Journal"`
			Abstract []struct {
				Label string `xml:"Label,attr"`
				innerText
			} `xml:"Abstract>AbstractText"`
		} `xml:"MedlineCitation>Article"`
	} `xml:"PubmedArticle"`
}

// innerText captures element content including inline markup such as <i>.
type innerText struct {
	Inner string `xml:",innerxml"`
}

var tagPattern = regexp.MustCompile(`<[^>]*>`)

func (t innerText) Text() string {
	s := tagPattern.ReplaceAllString(t.Inner, "")
	return strings.Join(strings.Fields(html.UnescapeString(s)), " ")
}

func parsePubmedArticle(data []byte) (*FullText, error) {
	var set pubmedArticleSet
	if err := xml.Unmarshal(data, &set); err != nil {
		return nil, err
	}
	ft := &FullText{}
	if len(set.Articles) == 0 {
		return ft, nil
	}
	a := set.Articles[0].Article
	ft.Title = a.Title.Text()
	ft.Venue = strings.TrimSpace(a.Journal.Title)

	d := a.Journal.PubDate
	if d.MedlineDate != "" {
		ft.Date = d.MedlineDate
	} else {
		var parts []string
		for _, p := range []string{d.Year, d.Month, d.Day} {
			if p != "" {
				parts = append(parts, p)
			}
		}
		ft.Date = strings.Join(parts, " ")
	}

	var abstract []string
	for _, at := range a.Abstract {
		text := at.Text()
		if text == "" {
			continue
		}
		if at.Label != "" {
			text = at.Label + ": " + text
		}
		abstract = append(abstract, text)
	}
	ft.Abstract = strings.Join(abstract, "\n\n")
	return ft, nil
}

// bodyParagraphs collects the text of every <p> inside <body>, in document order.
func bodyParagraphs(data []byte) (paras []string, hasBody bool, err error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.Strict = false
	dec.AutoClose = xml.HTMLAutoClose
	dec.Entity = xml.HTMLEntity

	var bodyDepth, pDepth int
	var buf strings.Builder
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, hasBody, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch {
			case t.Name.Local == "body":
				bodyDepth++
				hasBody = true
			case bodyDepth > 0 && t.Name.Local == "p":
				pDepth++
			}
		case xml.EndElement:
			switch {
			case t.Name.Local == "body" && bodyDepth > 0:
				bodyDepth--
			case bodyDepth > 0 && t.Name.Local == "p" && pDepth > 0:
				pDepth--
				if pDepth == 0 {
					if text := strings.Join(strings.Fields(buf.String()), " "); text != "" {
						paras = append(paras, text)
					}
					buf.Reset()
				}
			}
		case xml.CharData:
			if pDepth > 0 {
				buf.Write(t)
				buf.WriteByte(' ')
			}
		}
	}
	return paras, hasBody, nil
}

// LiteratureSearch is the literature-search tool.
type LiteratureSearch struct {
	NCBI       *NCBI
	MaxResults int
}

func (t *LiteratureSearch) Spec() Spec {
	return Spec{
		Name:        "literature-search",
		Description: "Search PubMed for articles. Returns ids, titles, journals, dates and URLs. Bias terms toward epidemiology or reviews, e.g. \"asthma AND (prevalence OR incidence)\".",
		Params: []Param{
			{Name: "term", Type: TypeString, Required: true, Description: "PubMed query"},
			{Name: "max_results", Type: TypeInteger, Min: 1, Max: t.MaxResults, Default: min(10, t.MaxResults), Description: "number of articles to return"},
		},
	}
}

func (t *LiteratureSearch) Call(ctx context.Context, args Args) (any, error) {
	return t.NCBI.Search(ctx, args.String("term"), args.Int("max_results"))
}

// LiteratureFullText is the literature-fulltext tool.
type LiteratureFullText struct {
	NCBI *NCBI
}

func (t *LiteratureFullText) Spec() Spec {
	return Spec{
		Name:        "literature-fulltext",
		Description: "Fetch metadata, abstract and, when open access, the full body text of a PubMed article by PMID.",
		Params: []Param{
			{Name: "id", Type: TypeString, Required: true, Pattern: pmidPattern, Description: "PubMed id (digits only)"},
		},
	}
}

func (t *LiteratureFullText) Call(ctx context.Context, args Args) (any, error) {
	return t.NCBI.FullText(ctx, args.String("id"))
}
