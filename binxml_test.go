package apkparser_test

import (
	"bytes"
	"encoding/binary"
	"encoding/xml"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/droidscope/apkparser"
	"github.com/droidscope/apkparser/apkerr"
	"github.com/droidscope/apkparser/internal/testutil"
)

const androidNS = "http://schemas.android.com/apk/res/android"

func sampleManifest() *testutil.Axml {
	a := &testutil.Axml{ResourceIDs: []uint32{0x0101021b, 0x0101021c}}
	a.StartNamespace("android", androidNS).
		StartTag("", "manifest",
			testutil.AttrTyped(androidNS, "versionCode", testutil.TypeIntDec, 1),
			testutil.AttrString(androidNS, "versionName", "1.0"),
			testutil.AttrString("", "package", "com.example.app"),
			testutil.AttrTyped(androidNS, "compileSdkVersion", testutil.TypeIntDec, 33)).
		StartTag("", "uses-sdk", testutil.AttrTyped(androidNS, "minSdkVersion", testutil.TypeIntDec, 8)).
		EndTag("", "uses-sdk").
		StartTag("", "uses-permission", testutil.AttrString(androidNS, "name", "android.permission.INTERNET")).
		EndTag("", "uses-permission").
		StartTag("", "uses-permission", testutil.AttrString(androidNS, "name", "android.permission.ACCESS_NETWORK_STATE")).
		EndTag("", "uses-permission").
		StartTag("", "application",
			testutil.AttrTyped(androidNS, "label", testutil.TypeReference, 0x7f040000),
			testutil.AttrTyped(androidNS, "icon", testutil.TypeReference, 0x7f020000),
			testutil.AttrTyped(androidNS, "debuggable", testutil.TypeIntBool, 0xFFFFFFFF),
			testutil.AttrTyped(androidNS, "allowBackup", testutil.TypeIntBool, 0)).
		StartTag("", "activity",
			testutil.AttrString(androidNS, "name", ".MainActivity"),
			testutil.AttrTyped(androidNS, "exported", testutil.TypeIntBool, 1)).
		StartTag("", "intent-filter").
		StartTag("", "action", testutil.AttrString(androidNS, "name", "android.intent.action.MAIN")).
		EndTag("", "action").
		EndTag("", "intent-filter").
		EndTag("", "activity").
		EndTag("", "application").
		EndTag("", "manifest").
		EndNamespace("android", androidNS)
	return a
}

func TestDecodeAxmlManifest(t *testing.T) {
	t.Parallel()

	for _, utf8 := range []bool{false, true} {
		a := sampleManifest()
		a.UTF8 = utf8
		doc, err := apkparser.DecodeAxml(a.Bytes())
		require.NoError(t, err)

		require.NotNil(t, doc.Root)
		assert.Equal(t, "manifest", doc.Root.Name)
		assert.Equal(t, uint32(2), doc.Root.Line)
		assert.Len(t, doc.Root.ChildrenNamed("uses-permission"), 2)
		assert.Equal(t, []uint32{0x0101021b, 0x0101021c}, doc.ResourceIDs)

		assert.Equal(t, 26, doc.Strings.Len())
		for _, s := range []string{"versionCode", "versionName", "minSdkVersion", "package", "manifest"} {
			assert.Contains(t, doc.Strings.Strings(), s)
		}

		want := []apkparser.Namespace{{Prefix: "android", URI: androidNS}}
		if diff := cmp.Diff(want, doc.Root.Namespaces); diff != "" {
			t.Errorf("namespaces mismatch (-want +got):\n%s", diff)
		}

		assert.Equal(t, "1", doc.Root.AttrString("android:versionCode"))
		assert.Equal(t, "1.0", doc.Root.AttrString("android:versionName"))
		assert.Equal(t, "com.example.app", doc.Root.AttrString("package"))

		perms := doc.FindAll("/manifest/uses-permission")
		require.Len(t, perms, 2)
		assert.Equal(t, "android.permission.INTERNET", perms[0].AttrString("android:name"))
		assert.Equal(t, "android.permission.ACCESS_NETWORK_STATE", perms[1].AttrString("android:name"))

		actions := doc.FindAll("manifest/application/activity/intent-filter/action")
		require.Len(t, actions, 1)
		assert.Equal(t, "android.intent.action.MAIN", actions[0].AttrString("android:name"))
	}
}

func TestDecodeAxmlValues(t *testing.T) {
	t.Parallel()

	doc, err := apkparser.DecodeAxml(sampleManifest().Bytes())
	require.NoError(t, err)
	app := doc.FindAll("/manifest/application")
	require.Len(t, app, 1)
	activity := app[0].ChildrenNamed("activity")
	require.Len(t, activity, 1)

	tests := []struct {
		name string
		elem *apkparser.Element
		attr string
		kind apkparser.ValueKind
		want string
	}{
		{"reference", app[0], "android:label", apkparser.ValueReference, "@0x7f040000"},
		{"bool all ones", app[0], "android:debuggable", apkparser.ValueBool, "true"},
		{"bool zero", app[0], "android:allowBackup", apkparser.ValueBool, "false"},
		{"bool one", activity[0], "android:exported", apkparser.ValueBool, "true"},
		{"string", activity[0], "android:name", apkparser.ValueString, ".MainActivity"},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			v, ok := tc.elem.Attr(tc.attr)
			require.True(t, ok)
			assert.Equal(t, tc.kind, v.Kind)
			assert.Equal(t, tc.want, v.String())
		})
	}
}

func TestAttrValueString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		v    apkparser.AttrValue
		want string
	}{
		{"null", apkparser.AttrValue{Kind: apkparser.ValueNull, Data: 5}, ""},
		{"int dec", apkparser.AttrValue{Kind: apkparser.ValueIntDec, Data: 42}, "42"},
		{"int dec high bit", apkparser.AttrValue{Kind: apkparser.ValueIntDec, Data: 0xFFFFFFFF}, "4294967295"},
		{"int hex", apkparser.AttrValue{Kind: apkparser.ValueIntHex, Data: 0x30}, "0x30"},
		{"bool other", apkparser.AttrValue{Kind: apkparser.ValueBool, Data: 2}, "false"},
		{"raw", apkparser.AttrValue{Kind: apkparser.ValueRaw, Data: 0x3f800000, Flags: 0x04000008}, "[0x3f800000, flag=0x4000008]"},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, tc.v.String())
		})
	}
}

func TestDecodeAxmlNamespacesAndText(t *testing.T) {
	t.Parallel()

	const appNS = "http://schemas.android.com/apk/res-auto"
	a := &testutil.Axml{}
	a.StartNamespace("android", androidNS).
		StartNamespace("app", appNS).
		StartTag("", "LinearLayout", testutil.AttrTyped(androidNS, "orientation", testutil.TypeIntDec, 1)).
		StartTag(appNS, "Custom",
			testutil.AttrTyped(appNS, "weight", testutil.TypeFloat, 0x3f800000),
			testutil.AttrTyped(androidNS, "id", testutil.TypeReference, 0x7f0a0001)).
		EndTag(appNS, "Custom").
		StartTag("", "TextView").
		Text("first").
		Text("second").
		EndTag("", "TextView").
		EndTag("", "LinearLayout").
		Text("outside")

	doc, err := apkparser.DecodeAxml(a.Bytes())
	require.NoError(t, err)

	want := []apkparser.Namespace{
		{Prefix: "android", URI: androidNS},
		{Prefix: "res-auto", URI: appNS},
	}
	if diff := cmp.Diff(want, doc.Root.Namespaces); diff != "" {
		t.Errorf("namespaces mismatch (-want +got):\n%s", diff)
	}

	children := doc.Root.Elements()
	require.Len(t, children, 2)
	assert.Equal(t, "res-auto:Custom", children[0].Name)
	assert.Equal(t, appNS, children[0].Namespace)
	assert.Equal(t, "[0x3f800000, flag=0x4000008]", children[0].AttrString("res-auto:weight"))
	assert.Equal(t, "@0x7f0a0001", children[0].AttrString("android:id"))
	assert.Empty(t, children[0].Namespaces)

	assert.Equal(t, "second", children[1].Text())
	assert.Len(t, children[1].Children, 1)
	assert.Empty(t, doc.Root.Text())
}

func TestDocumentEncode(t *testing.T) {
	t.Parallel()

	a := &testutil.Axml{}
	a.StartNamespace("android", androidNS).
		StartTag("", "manifest", testutil.AttrString("", "package", "com.example")).
		StartTag("", "uses-permission", testutil.AttrString(androidNS, "name", "android.permission.CAMERA")).
		EndTag("", "uses-permission").
		EndTag("", "manifest")

	doc, err := apkparser.DecodeAxml(a.Bytes())
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, doc.Encode(xml.NewEncoder(&buf), nil, apkparser.Locale{}))
	assert.Equal(t,
		`<manifest xmlns:android="`+androidNS+`" package="com.example">`+
			`<uses-permission android:name="android.permission.CAMERA"></uses-permission></manifest>`,
		buf.String())
}

func TestDocumentEncodeResolvesReferences(t *testing.T) {
	t.Parallel()

	a := &testutil.Axml{}
	a.StartNamespace("android", androidNS).
		StartTag("", "manifest").
		StartTag("", "application",
			testutil.AttrTyped(androidNS, "label", testutil.TypeReference, 0x7f030000),
			testutil.AttrTyped(androidNS, "icon", testutil.TypeReference, 0x7f020000),
			testutil.AttrTyped(androidNS, "theme", testutil.TypeReference, 0x7f0300ff),
			testutil.AttrTyped(androidNS, "logo", testutil.TypeReference, 0x7f040000),
			testutil.AttrTyped(androidNS, "debuggable", testutil.TypeIntBool, 1),
		).
		EndTag("", "application").
		EndTag("", "manifest")
	doc, err := apkparser.DecodeAxml(a.Bytes())
	require.NoError(t, err)
	table := decodeSampleTable(t)

	tests := []struct {
		name  string
		table *apkparser.ResourceTable
		loc   apkparser.Locale
		want  map[string]string
	}{
		{
			name: "without table",
			want: map[string]string{
				"label": "@0x7f030000",
				"icon":  "@0x7f020000",
			},
		},
		{
			name:  "default locale",
			table: table,
			want: map[string]string{
				"label": "Sample",
				"icon":  "res/drawable-mdpi/icon.png",
			},
		},
		{
			name:  "ja",
			table: table,
			loc:   apkparser.Locale{Lang: "ja"},
			want: map[string]string{
				"label": "サンプル",
				"icon":  "res/drawable-mdpi/icon.png",
			},
		},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			var buf bytes.Buffer
			require.NoError(t, doc.Encode(xml.NewEncoder(&buf), tc.table, tc.loc))

			attrs := applicationAttrs(t, buf.Bytes())
			for name, v := range tc.want {
				assert.Equal(t, v, attrs[name], name)
			}
			// unknown ids and unsupported types keep the hex form
			assert.Equal(t, "@0x7f0300ff", attrs["theme"])
			assert.Equal(t, "@0x7f040000", attrs["logo"])
			assert.Equal(t, "true", attrs["debuggable"])
		})
	}
}

// applicationAttrs reads back the attributes of the encoded application
// element by local name.
func applicationAttrs(t *testing.T, data []byte) map[string]string {
	t.Helper()

	dec := xml.NewDecoder(bytes.NewReader(data))
	for {
		tok, err := dec.Token()
		require.NoError(t, err)
		se, ok := tok.(xml.StartElement)
		if !ok || se.Name.Local != "application" {
			continue
		}
		res := make(map[string]string)
		for _, a := range se.Attr {
			res[a.Name.Local] = a.Value
		}
		return res
	}
}

func TestDecodeAxmlErrors(t *testing.T) {
	t.Parallel()

	unknown := &testutil.Axml{}
	unknown.StartTag("", "manifest")
	unknownOff := unknown.BodyOffset()
	rec := binary.LittleEndian.AppendUint32(nil, 0x00100107)
	rec = binary.LittleEndian.AppendUint32(rec, 0x10)
	rec = append(rec, make([]byte, 8)...)
	unknown.Raw(rec).EndTag("", "manifest")

	twoRoots := &testutil.Axml{}
	twoRoots.StartTag("", "a").EndTag("", "a").StartTag("", "b").EndTag("", "b")

	truncated := sampleManifest().Bytes()
	truncated = truncated[:len(truncated)-8]

	tests := []struct {
		name   string
		data   []byte
		want   error
		offset int64
	}{
		{"unknown tag", unknown.Bytes(), apkerr.ErrUnknownChunkType, int64(unknownOff)},
		{"second root", twoRoots.Bytes(), apkerr.ErrMalformedHeader, -2},
		{"truncated", truncated, apkerr.ErrOutOfBounds, 4},
		{"bad magic", []byte{0x02, 0x00, 0x0c, 0x00, 0, 0, 0, 0}, apkerr.ErrMalformedHeader, 0},
		{"plain text", []byte(`<?xml version="1.0" encoding="utf-8"?><manifest/>`), apkparser.ErrPlainTextManifest, -1},
		{"empty", nil, apkerr.ErrMalformedHeader, 0},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := apkparser.DecodeAxml(tc.data)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tc.want), "got %v", err)

			var re *apkerr.ReadError
			require.True(t, errors.As(err, &re))
			assert.Equal(t, "axml", re.Format)
			if tc.offset != -2 {
				assert.Equal(t, tc.offset, re.Offset)
			}
		})
	}
}
