package export

// Fixed statement values of the official template. The asset and labor statements are not
// derivable from entry data yet, so the published figures are written as-is.

var basicAssetValues = []cellValue{
	{"B5", "현 금"}, {"C5", "-"}, {"D5", "-"}, {"E5", "-"}, {"F5", 200_000_000}, {"G5", "설립시 기본재산"},
	{"B6", "현 금"}, {"C6", "-"}, {"D6", "-"}, {"E6", "-"}, {"F6", 6_309_484_579}, {"G6", "시설임대 ·장비활용 수익금 기본재산 "},
	{"B7", "토지1"}, {"C7", "포항 남 지곡로"}, {"D7", 394}, {"E7", 16_729}, {"F7", 1_374_911_200}, {"G7", "출연부지 및 \n매입토지"},
	{"B8", "토지2"}, {"C8", "포항 남 지곡동"}, {"D8", 909}, {"E8", 1_809}, {"F8", 220_698_000},
	{"B9", "토지3"}, {"C9", "포항 남 지곡동"}, {"D9", 911}, {"E9", 2_030}, {"F9", 262_367_900},
	{"B10", "토지4"}, {"C10", "포항 남 지곡동"}, {"D10", 918}, {"E10", 304}, {"F10", 9_728_000},
	{"B11", "토지5"}, {"C11", "포항 남 지곡동"}, {"D11", "산116"}, {"E11", 121_800}, {"F11", 8_728_331_640},
	{"B12", "토지6"}, {"C12", "포항 남 지곡동"}, {"D12", 905}, {"E12", 160}, {"F12", 39_040_000},
	{"B13", "토지7"}, {"C13", "포항 남 지곡동"}, {"D13", 919}, {"E13", 734}, {"F13", 23_488_000},
	{"B14", "토지8"}, {"C14", "포항 남 지곡동"}, {"D14", "산138"}, {"E14", 37_290}, {"F14", 829_148_580},
}

var ordinaryAssetValues = []cellValue{
	{"E5", 5_441_863_488}, {"F5", 5_441_863_488},
	{"E6", 25_416_589_448}, {"F6", 25_416_589_448},
	{"E8", 2_009_645_325}, {"F8", 1_005_679_095},
	{"E10", 51_012_376}, {"F10", 3_727_818},
	{"E11", 282_487_776}, {"F11", 46_953_592},
	{"E13", 3_108_025_408}, {"F13", 3_108_025_408},
	{"E14", 45_187_867_845}, {"F14", 27_170_660_679},
	{"E15", 7_145_191_760}, {"F15", 356_781_116},
	{"E16", 10_269_138_536}, {"F16", 206_326_444},
	{"E17", 1_196_260_304}, {"F17", 155_073_518},
	{"E18", 941_795_911}, {"F18", 941_795_911},
}

var laborStatementValues = []cellValue{
	{"E11", 1},
	{"F6", 120_315}, {"G6", 114_586},
	{"F7", 0}, {"G7", 0},
	{"F8", 16_844}, {"G8", 16_523},
	{"F9", 11_513}, {"G9", 11_294},
	{"F10", 14_073}, {"G10", 10_615},
	{"E17", 99},
	{"G12", 4_639_948}, {"G13", 1_389_630}, {"G14", 534_385}, {"G15", 540_285},
	{"G16", 693_812}, {"G17", 7_798_060}, {"G18", 7_170_495}, {"G19", 780_583},
}
