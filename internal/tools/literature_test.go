package tools

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const esearchJSON = `{"esearchresult":{"count":"2","idlist":["111","222"]}}`

const esummaryJSON = `{"result":{"uids":["111","222"],
"111":{"uid":"111","title":"Asthma prevalence in adults","fulljournalname":"Thorax","pubdate":"2020 Jan"},
"222":{"uid":"222","title":"Asthma incidence","fulljournalname":"Lancet","pubdate":"2019"}}}`

const elinkXML = `<?xml version="1.0"?>
<!DOCTYPE eLinkResult PUBLIC "-//NLM//DTD elink 20101123//EN" "https://eutils.ncbi.nlm.nih.gov/eutils/dtd/20101123/elink.dtd">
<eLinkResult><LinkSet><DbFrom>pubmed</DbFrom>
<LinkSetDb><DbTo>pmc</DbTo><LinkName>pubmed_pmc_refs</LinkName><Link><Id>999</Id></Link></LinkSetDb>
<LinkSetDb><DbTo>pmc</DbTo><LinkName>pubmed_pmc</LinkName><Link><Id>7654321</Id></Link></LinkSetDb>
</LinkSet></eLinkResult>`

const elinkEmptyXML = `<eLinkResult><LinkSet><DbFrom>pubmed</DbFrom></LinkSet></eLinkResult>`

const pubmedXML = `<PubmedArticleSet><PubmedArticle><MedlineCitation><Article>
<Journal><JournalIssue><PubDate><Year>2021</Year><Month>Mar</Month></PubDate></JournalIssue><Title>Respiratory Medicine</Title></Journal>
<ArticleTitle>Wheeze in <i>children</i></ArticleTitle>
<Abstract><AbstractText Label="BACKGROUND">Asthma affects 8% of children.</AbstractText><AbstractText>SNOMED 195967001 was used.</AbstractText></Abstract>
</Article></MedlineCitation></PubmedArticle></PubmedArticleSet>`

const pmcXML = `<!DOCTYPE pmc-articleset PUBLIC "-//NLM//DTD ARTICLE SET 2.0//EN" "https://dtd.nlm.nih.gov/ncbi/pmc/articleset/nlm-articleset-2.0.dtd">
<pmc-articleset><article><front><p>front matter</p></front><body>
<sec><title>Intro</title><p>First   paragraph with <italic>markup</italic>.</p></sec>
<sec><p>Second &amp; last.</p></sec>
</body></article></pmc-articleset>`

func fakeNCBI(t *testing.T, elink string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		switch r.URL.Path {
		case "/esearch.fcgi":
			assert.Equal(t, "pubmed", q.Get("db"))
			assert.Equal(t, "json", q.Get("retmode"))
			if q.Get("term") == "nothing" {
				w.Write([]byte(`{"esearchresult":{"idlist":[]}}`))
				return
			}
			w.Write([]byte(esearchJSON))
		case "/esummary.fcgi":
			assert.Equal(t, "111,222", q.Get("id"))
			w.Write([]byte(esummaryJSON))
		case "/elink.fcgi":
			w.Write([]byte(elink))
		case "/efetch.fcgi":
			if q.Get("db") == "pmc" {
				assert.Equal(t, "PMC7654321", q.Get("id"))
				w.Write([]byte(pmcXML))
				return
			}
			w.Write([]byte(pubmedXML))
		default:
			http.NotFound(w, r)
		}
	}))
}

func TestNCBISearch(t *testing.T) {
	srv := fakeNCBI(t, elinkXML)
	defer srv.Close()

	n := NewNCBI(HTTPOptions{BaseURL: srv.URL}, "")
	list, err := n.Search(context.Background(), "asthma", 2)
	require.NoError(t, err)
	require.Equal(t, 2, list.Count)
	assert.Equal(t, Article{
		ID:    "111",
		Title: "Asthma prevalence in adults",
		Venue: "Thorax",
		Date:  "2020 Jan",
		URL:   "https://pubmed.ncbi.nlm.nih.gov/111/",
	}, list.Results[0])
	assert.Equal(t, "222", list.Results[1].ID)
}

func TestNCBISearch_NoHits(t *testing.T) {
	srv := fakeNCBI(t, elinkXML)
	defer srv.Close()

	n := NewNCBI(HTTPOptions{BaseURL: srv.URL}, "")
	list, err := n.Search(context.Background(), "nothing", 5)
	require.NoError(t, err)
	assert.Equal(t, 0, list.Count)
	assert.NotNil(t, list.Results)
}

func TestNCBISearch_SendsAPIKey(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.URL.Query().Get("api_key")
		w.Write([]byte(`{"esearchresult":{"idlist":[]}}`))
	}))
	defer srv.Close()

	n := NewNCBI(HTTPOptions{BaseURL: srv.URL}, "k-123")
	_, err := n.Search(context.Background(), "x", 1)
	require.NoError(t, err)
	assert.Equal(t, "k-123", got)
}

func TestNCBISearch_TransportErrorHidesAPIKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	base := srv.URL
	srv.Close()

	n := NewNCBI(HTTPOptions{BaseURL: base, Backoff: time.Millisecond}, "SECRET-KEY")
	_, err := n.Search(context.Background(), "asthma", 1)
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "SECRET-KEY")
	assert.Contains(t, err.Error(), "api_key=REDACTED")
}

func TestNCBISearch_UpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"esearchresult":{"ERROR":"Invalid query"}}`))
	}))
	defer srv.Close()

	n := NewNCBI(HTTPOptions{BaseURL: srv.URL}, "")
	_, err := n.Search(context.Background(), "x", 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid query")
}

func TestNCBIFullText(t *testing.T) {
	srv := fakeNCBI(t, elinkXML)
	defer srv.Close()

	n := NewNCBI(HTTPOptions{BaseURL: srv.URL}, "")
	ft, err := n.FullText(context.Background(), "111")
	require.NoError(t, err)
	assert.True(t, ft.Available)
	assert.Equal(t, "PMC7654321", ft.PMCID)
	assert.Equal(t, "https://www.ncbi.nlm.nih.gov/pmc/articles/PMC7654321/", ft.PMCURL)
	assert.Equal(t, "Wheeze in children", ft.Title)
	assert.Equal(t, "Respiratory Medicine", ft.Venue)
	assert.Equal(t, "2021 Mar", ft.Date)
	assert.Equal(t, "BACKGROUND: Asthma affects 8% of children.\n\nSNOMED 195967001 was used.", ft.Abstract)
	assert.Equal(t, "First paragraph with markup .\n\nSecond & last.", ft.FullText)
}

func TestNCBIFullText_NoPMCLink(t *testing.T) {
	srv := fakeNCBI(t, elinkEmptyXML)
	defer srv.Close()

	n := NewNCBI(HTTPOptions{BaseURL: srv.URL}, "")
	ft, err := n.FullText(context.Background(), "111")
	require.NoError(t, err)
	assert.False(t, ft.Available)
	assert.Empty(t, ft.PMCID)
	assert.Contains(t, ft.Message, "No PMC full-text link")
	assert.NotEmpty(t, ft.Abstract)
}

func TestLiteratureTools_ThroughRegistry(t *testing.T) {
	srv := fakeNCBI(t, elinkXML)
	defer srv.Close()

	n := NewNCBI(HTTPOptions{BaseURL: srv.URL}, "")
	reg := newTestRegistry(t, &LiteratureSearch{NCBI: n, MaxResults: 50}, &LiteratureFullText{NCBI: n})

	rec := reg.Invoke(context.Background(), "literature-search", map[string]any{"term": "asthma", "max_results": 2})
	require.True(t, rec.OK(), "%v", rec.Failure)
	assert.Contains(t, string(rec.Output), "Asthma prevalence in adults")

	rec = reg.Invoke(context.Background(), "literature-fulltext", map[string]any{"id": "PMC1"})
	require.False(t, rec.OK())
	assert.Equal(t, KindInvalidArguments, rec.Failure.Kind)
}
