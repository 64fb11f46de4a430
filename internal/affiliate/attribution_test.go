package affiliate

import (
	"net/http"
	"testing"
)

func TestResolveAttribution(t *testing.T) {
	tests := []struct {
		name string
		src  Source
		want Attribution
		ok   bool
	}{
		{"empty", Source{}, Attribution{}, false},
		{"malformed only", Source{Ref: "bad value!", AffiliateID: "<script>"}, Attribution{}, false},
		{"ref only", Source{Ref: "alice"}, Attribution{AffiliateCode: "alice"}, true},
		{
			"drops malformed fields",
			Source{AffiliateID: "aff_1", LinkID: "lnk 1"},
			Attribution{AffiliateID: "aff_1"},
			true,
		},
		{
			"full identity",
			Source{AffiliateID: "aff_1", Ref: "alice", LinkID: "lnk_1", ClickID: "clk_1"},
			Attribution{AffiliateID: "aff_1", AffiliateCode: "alice", LinkID: "lnk_1", ClickID: "clk_1"},
			true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ResolveAttribution(tt.src)
			if ok != tt.ok || got != tt.want {
				t.Fatalf("ResolveAttribution(%+v) = %+v, %v; want %+v, %v", tt.src, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestSourceFromCookieHeader(t *testing.T) {
	src := SourceFromCookieHeader("session=x; affiliate_ref=alice; affiliate_id=aff_1; affiliate_click=clk_9")
	want := Source{AffiliateID: "aff_1", Ref: "alice", ClickID: "clk_9"}
	if src != want {
		t.Fatalf("got %+v, want %+v", src, want)
	}
	if !SourceFromCookieHeader("").Empty() {
		t.Fatal("empty header should yield empty source")
	}
}

func TestSourceFromCookies(t *testing.T) {
	src := SourceFromCookies([]*http.Cookie{{Name: CookieRef, Value: "bob"}, {Name: "other", Value: "x"}})
	if src.Ref != "bob" || src.AffiliateID != "" {
		t.Fatalf("unexpected source %+v", src)
	}
}

func TestSourceFromMetadataAndPrecedence(t *testing.T) {
	md := SourceFromMetadata(map[string]string{"affiliateId": "aff_2", "clickId": "clk_2"})
	cookie := Source{AffiliateID: "aff_1", Ref: "alice"}

	got := FirstSource(md, cookie)
	if got != md {
		t.Fatalf("metadata should win, got %+v", got)
	}
	if got := FirstSource(Source{}, cookie); got != cookie {
		t.Fatalf("cookie should be used when metadata is empty, got %+v", got)
	}
}
