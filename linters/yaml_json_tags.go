package linters

import (
	"go/ast"
	"strings"

	"golang.org/x/tools/go/analysis"
)

// YamlJSONTagsMatch checks that yaml and json struct tags agree. Spec types
// are decoded from yaml but reflected into the published json schema, so a
// field whose tags diverge would document one name and decode another.
var YamlJSONTagsMatch = &analysis.Analyzer{
	Name: "yaml_json_tags_match",
	Doc:  "check that struct tags for json and yaml use the same name and omitempty option",
	Run:  structTagLinter{}.Run,
}

type structTagLinter struct{}

func (l structTagLinter) Run(pass *analysis.Pass) (interface{}, error) {
	for _, file := range pass.Files {
		ast.Inspect(file, func(n ast.Node) bool {
			switch x := n.(type) {
			case *ast.TypeSpec:
				if structType, ok := x.Type.(*ast.StructType); ok {
					l.checkStructTags(structType, pass)
				}
			}
			return true
		})
	}
	return nil, nil
}

func (structTagLinter) checkStructTags(structType *ast.StructType, pass *analysis.Pass) {
	for _, field := range structType.Fields.List {
		if field.Tag == nil {
			continue
		}

		jt, yt := getYamlJSONTags(field.Tag.Value)
		if jt.name == "" && yt.name == "" {
			continue
		}

		if jt.name != yt.name {
			pass.Reportf(field.Pos(), "mismatch in struct tags: json=%s, yaml=%s", jt.name, yt.name)
			continue
		}

		if jt.omitempty != yt.omitempty {
			pass.Reportf(field.Pos(), "omitempty mismatch in struct tags: json=%q, yaml=%q", jt.raw, yt.raw)
		}
	}
}

type tagValue struct {
	raw       string
	name      string
	omitempty bool
}

func parseTagValue(raw string) tagValue {
	v := tagValue{raw: raw}

	name, opts, _ := strings.Cut(raw, ",")
	v.name = name

	for _, opt := range strings.Split(opts, ",") {
		if opt == "omitempty" {
			v.omitempty = true
		}
	}
	return v
}

func getYamlJSONTags(tag string) (jsonTag, yamlTag tagValue) {
	tag = strings.Trim(tag, "`")

	for _, f := range strings.Fields(tag) {
		key, rest, _ := strings.Cut(f, ":")
		value := strings.Trim(rest, `"`)

		switch key {
		case "json":
			jsonTag = parseTagValue(value)
		case "yaml":
			yamlTag = parseTagValue(value)
		}
	}

	return jsonTag, yamlTag
}
