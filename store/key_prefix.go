package store

// Declare database key prefix for objects
const (
	PrefixHeader     = "hdr:"
	PrefixHeaderHash = "hdr_hash:"
	PrefixHeaderMeta = "hdr_meta:"

	HeaderMetaKeyHeight = "height"
)
