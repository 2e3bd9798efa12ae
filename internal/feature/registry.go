package feature

// Flag is named such that checking for a feature uses `feature.Flag.Enabled(feature.OneBitMultiResCache)`.
var Flag = New()

const (
	OneBitMultiResCache FlagName = "one-bit-multires-cache"
	VerifyBlockChecksum FlagName = "verify-block-checksum"
)

func init() {
	Flag.SetFlags(map[FlagName]FlagDesc{
		OneBitMultiResCache: {Type: Alpha, Description: "also cache the sub-resolutions of 1 bit per pixel images, not only the full resolution."},
		VerifyBlockChecksum: {Type: Beta, Description: "verify the checksum of every block read from a cache store."},
	})
}
