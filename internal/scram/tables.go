package scram

// Range tables for the RFC 4013 SASLprep profile of RFC 3454 stringprep.
// These are a practical subset of the RFC 3454 appendix tables — the
// codepoints a password is overwhelmingly likely to contain — rather than a
// transcription of the full Unicode 3.2 character database, which would
// dwarf the rest of this package. Every range is sorted by lo so isInTable
// can binary search it.

// nonASCIISpace is table C.1.2: non-ASCII space characters, mapped to
// U+0020 by the Map step.
var nonASCIISpace = []codepointRange{
	{0x00A0, 0x00A0},
	{0x1680, 0x1680},
	{0x2000, 0x200B},
	{0x202F, 0x202F},
	{0x205F, 0x205F},
	{0x3000, 0x3000},
}

// mappedToNothing is table B.1: characters deleted entirely by the Map step.
var mappedToNothing = []codepointRange{
	{0x00AD, 0x00AD},
	{0x034F, 0x034F},
	{0x1806, 0x1806},
	{0x180B, 0x180D},
	{0x200C, 0x200D},
	{0x2060, 0x2060},
	{0xFE00, 0xFE0F},
	{0xFEFF, 0xFEFF},
}

// prohibitedOutput merges ranges from tables C.2.1/C.2.2 (control
// characters), C.3 (private use), C.4 (non-character code points), C.5
// (surrogates), C.6 (inapplicable), C.8 (tagging/display-property changes),
// and C.9 (deprecated/tagging characters). ASCII space (U+0020) is not
// prohibited, and no C.7 range is listed.
var prohibitedOutput = []codepointRange{
	{0x0000, 0x001F}, // C.2.1 ASCII control
	{0x007F, 0x009F}, // C.2.1/.2 ASCII DEL + C1 control
	{0x06DD, 0x06DD},
	{0x070F, 0x070F},
	{0x180E, 0x180E},
	{0x200E, 0x200F}, // C.8 direction control
	{0x202A, 0x202E}, // C.8 direction override
	{0x2060, 0x2063},
	{0x206A, 0x206F}, // C.8 deprecated display controls
	{0xD800, 0xDFFF}, // C.5 surrogates
	{0xE000, 0xF8FF},  // C.3 private use area
	{0xFDD0, 0xFDEF},  // C.4 non-characters
	{0xFEFF, 0xFEFF},  // C.6 zero width no-break space (inapplicable)
	{0xFFF9, 0xFFFB},  // C.6 interlinear annotation
	{0xFFFE, 0xFFFF},  // C.4 non-characters
	{0x1D173, 0x1D17A}, // C.8 musical notation display controls
	{0xE0001, 0xE0001}, // C.9 language tag
	{0xE0020, 0xE007F}, // C.9 tag characters
	{0xF0000, 0xFFFFD}, // C.3 supplementary private use area-A
	{0x100000, 0x10FFFD}, // C.3 supplementary private use area-B
}

// randALCat is a representative subset of table D.1: characters with
// bidirectional category R or AL (e.g. Hebrew, Arabic, Syriac, Thaana,
// N'Ko).
var randALCat = []codepointRange{
	{0x05BE, 0x05BE},
	{0x05C0, 0x05C0},
	{0x05C3, 0x05C3},
	{0x05D0, 0x05EA},
	{0x05F0, 0x05F4},
	{0x0608, 0x0608},
	{0x060B, 0x060B},
	{0x060D, 0x060D},
	{0x061B, 0x064A},
	{0x066D, 0x066F},
	{0x0671, 0x06D5},
	{0x06E5, 0x06E6},
	{0x06EE, 0x06EF},
	{0x06FA, 0x070D},
	{0x0710, 0x074A},
	{0x074D, 0x07A5},
	{0x07B1, 0x07B1},
	{0x07C0, 0x07EA},
	{0x07F4, 0x07FA},
	{0xFB1D, 0xFB1D},
	{0xFB1F, 0xFB28},
	{0xFB2A, 0xFB4F},
	{0x10800, 0x10FFF},
}

// lCat is a representative subset of table D.2: characters with
// bidirectional category L (the common Latin, Greek, and Cyrillic letter
// ranges), used only to detect whether an LCat character accompanies a
// RandALCat one — not an exhaustive enumeration of every L-category
// codepoint in Unicode.
var lCat = []codepointRange{
	{0x0041, 0x005A},
	{0x0061, 0x007A},
	{0x00AA, 0x00AA},
	{0x00B5, 0x00B5},
	{0x00BA, 0x00BA},
	{0x00C0, 0x00D6},
	{0x00D8, 0x00F6},
	{0x00F8, 0x02B8},
	{0x0370, 0x0373},
	{0x0376, 0x0377},
	{0x037A, 0x037D},
	{0x0386, 0x0386},
	{0x0388, 0x03FF},
	{0x0400, 0x0482},
	{0x048A, 0x0523},
}

// unassignedCodePoints is a minimal placeholder set of codepoints that are
// unassigned in the Unicode version this profile targets; a full
// transcription of Unicode's unassigned-codepoint table is out of scope.
// It lists only a few unassigned Greek-block codepoints, none of which
// prohibitedOutput covers; the Prohibit step rejects no other unassigned
// codepoint. It is kept as a distinct table because the RFC treats
// "prohibited" and "unassigned" as separate checks.
var unassignedCodePoints = []codepointRange{
	{0x0378, 0x0379},
	{0x0380, 0x0383},
	{0x038B, 0x038B},
	{0x038D, 0x038D},
	{0x03A2, 0x03A2},
}
