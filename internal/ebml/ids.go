package ebml

// Element IDs used by the Matroska reader, written with their length marker
// bits as they appear on the wire (RFC 8794, RFC 9559).
const (
	IDEBML    = 0x1A45DFA3
	IDDocType = 0x4282
	IDVoid    = 0xEC
	IDCRC32   = 0xBF

	IDSegment = 0x18538067

	IDSeekHead     = 0x114D9B74
	IDSeek         = 0x4DBB
	IDSeekID       = 0x53AB
	IDSeekPosition = 0x53AC

	IDInfo          = 0x1549A966
	IDTimecodeScale = 0x2AD7B1
	IDDuration      = 0x4489
	IDTitle         = 0x7BA9

	IDTracks            = 0x1654AE6B
	IDTrackEntry        = 0xAE
	IDTrackNumber       = 0xD7
	IDTrackUID          = 0x73C5
	IDTrackType         = 0x83
	IDFlagDefault       = 0x88
	IDFlagForced        = 0x55AA
	IDDefaultDuration   = 0x23E383
	IDName              = 0x536E
	IDLanguage          = 0x22B59C
	IDLanguageIETF      = 0x22B59D
	IDCodecID           = 0x86
	IDCodecPrivate      = 0x63A2
	IDVideo             = 0xE0
	IDPixelWidth        = 0xB0
	IDPixelHeight       = 0xBA
	IDAudio             = 0xE1
	IDSamplingFrequency = 0xB5
	IDChannels          = 0x9F
	IDBitDepth          = 0x6264

	IDContentEncodings     = 0x6D80
	IDContentEncoding      = 0x6240
	IDContentEncodingOrder = 0x5031
	IDContentEncodingScope = 0x5032
	IDContentEncodingType  = 0x5033
	IDContentCompression   = 0x5034
	IDContentEncryption    = 0x5035
	IDContentCompAlgo      = 0x4254
	IDContentCompSettings  = 0x4255

	IDCluster        = 0x1F43B675
	IDTimecode       = 0xE7
	IDSimpleBlock    = 0xA3
	IDBlockGroup     = 0xA0
	IDBlock          = 0xA1
	IDBlockDuration  = 0x9B
	IDReferenceBlock = 0xFB

	IDCues               = 0x1C53BB6B
	IDCuePoint           = 0xBB
	IDCueTime            = 0xB3
	IDCueTrackPositions  = 0xB7
	IDCueTrack           = 0xF7
	IDCueClusterPosition = 0xF1

	IDChapters          = 0x1043A770
	IDEditionEntry      = 0x45B9
	IDChapterAtom       = 0xB6
	IDChapterUID        = 0x73C4
	IDChapterTimeStart  = 0x91
	IDChapterTimeEnd    = 0x92
	IDChapterFlagHidden = 0x98
	IDChapterDisplay    = 0x80
	IDChapString        = 0x85
	IDChapLanguage      = 0x437C

	IDAttachments     = 0x1941A469
	IDAttachedFile    = 0x61A7
	IDFileDescription = 0x467E
	IDFileName        = 0x466E
	IDFileMimeType    = 0x4660
	IDFileData        = 0x465C
	IDFileUID         = 0x46AE

	IDTags = 0x1254C367
)

// IsTopLevel reports whether id names a Segment child that terminates an
// unknown-sized Cluster.
func IsTopLevel(id uint32) bool {
	switch id {
	case IDCluster, IDCues, IDChapters, IDAttachments, IDTags, IDTracks, IDInfo, IDSeekHead, IDSegment, IDEBML:
		return true
	}
	return false
}
