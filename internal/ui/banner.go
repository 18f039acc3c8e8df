package ui

import "strings"

const banner = `
               ____
    _   _ ___ / __ \
 | \ | | __ )| |  | |_   _  ___ _   _  ___
 |  \| |  _ \| |  | | | | |/ _ \ | | |/ _ \
 | |\  | |_) | |__| | |_| |  __/ |_| |  __/
 |_| \_|____(_)___\_\\__,_|\___|\__,_|\___|

                ( ( (      ) ) )      barbequeue vibes
                 ) ) )    ( ( (       one hot run at a time
             .-~~~~~~~~~~~~~~~~-.
            /  queue it and grill  \
            \______________________/
`

// Banner prints the nbq banner followed by a version line.
func (p *Printer) Banner(versionLine string) {
	p.Println("%s", p.Render(TitleStyle, strings.TrimPrefix(banner, "\n")))
	if versionLine != "" {
		p.Println("%s", p.Render(HeaderStyle, versionLine))
	}
}
