package templatecatalog

import (
	"testing"

	"github.com/rogeriochaves/pinacle/pkg/model"
)

func TestStaticTemplateByName(t *testing.T) {
	cat := New(model.Template{Name: "foo", Image: "foo:latest"}, Default)

	tpl, ok := cat.TemplateByName("foo")
	if !ok || tpl.Image != "foo:latest" {
		t.Fatalf("expected to find seeded template foo, got %+v ok=%v", tpl, ok)
	}

	if _, ok := cat.TemplateByName("does-not-exist"); ok {
		t.Fatal("expected unknown template name to return ok=false")
	}
}

func TestDefaultTemplateIsPopulatedWithPorts(t *testing.T) {
	if Default.Name == "" || Default.Image == "" {
		t.Fatalf("expected Default template to be fully populated, got %+v", Default)
	}
	if len(Default.Ports) == 0 {
		t.Fatal("expected Default template to declare at least one port mapping")
	}
}
