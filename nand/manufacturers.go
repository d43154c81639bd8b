package nand

type manufacturer struct {
	id   byte
	name string
}

/* JEDEC manufacturer codes seen on parallel NAND */
var manufacturers = []manufacturer{
	{id: 0x01, name: "Spansion"},
	{id: 0x04, name: "Fujitsu"},
	{id: 0x07, name: "Renesas"},
	{id: 0x20, name: "ST Micro"},
	{id: 0x2c, name: "Micron"},
	{id: 0x45, name: "SanDisk"},
	{id: 0x89, name: "Intel"},
	{id: 0x98, name: "Toshiba"},
	{id: 0xad, name: "Hynix"},
	{id: 0xc2, name: "Macronix"},
	{id: 0xc8, name: "GigaDevice"},
	{id: 0xec, name: "Samsung"},
	{id: 0xef, name: "Winbond"},
}

func manufacturerLookup(id byte) (string, bool) {
	for _, m := range manufacturers {
		if m.id == id {
			return m.name, true
		}
	}
	return "", false
}

// ManufacturerName names a JEDEC manufacturer id.
func ManufacturerName(id byte) string {
	if name, ok := manufacturerLookup(id); ok {
		return name
	}
	return "unknown manufacturer"
}
