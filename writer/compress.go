package writer

import (
	"pdfdewm/filters"
	"pdfdewm/ir/raw"
)

// compressStreams flate-encodes every stream that currently carries no
// filter. Streams already encoded, including image codecs the filter
// layer passes through, keep their bytes untouched. Encoding that
// fails or grows the stream is skipped.
func compressStreams(doc *raw.Document) {
	for ref, obj := range doc.Objects {
		st, ok := obj.(*raw.StreamObj)
		if !ok {
			continue
		}
		if _, hasFilter := st.Dict.Get("Filter"); hasFilter {
			continue
		}
		encoded, err := filters.FlateEncode(st.Data)
		if err != nil || len(encoded) >= len(st.Data) {
			continue
		}
		st.Dict.Set("Filter", raw.NameLiteral("FlateDecode"))
		st.Dict.Set("Length", raw.NumberInt(int64(len(encoded))))
		st.Data = encoded
		doc.Objects[ref] = st
	}
}
