package orders

import (
	"github.com/ariefcatur/pos-ticketing/internal/notify"
	"github.com/ariefcatur/pos-ticketing/internal/tickets"
)

func buyer(o Order) tickets.Buyer {
	b := tickets.Buyer{Name: o.UserName, Phone: o.UserPhone}
	if o.UserEmail != nil {
		b.Email = *o.UserEmail
	}
	return b
}

func eventInfo(o Order) tickets.EventInfo {
	return tickets.EventInfo{Name: o.Event.Name, Date: o.Event.Date, Venue: o.Event.Venue}
}

func issueLine(l Line) tickets.Line {
	return tickets.Line{ID: l.ID, PassName: l.PassName, UnitPrice: l.UnitPrice, Units: l.Quantity}
}

func issueRequest(o Order, lines []Line) tickets.IssueRequest {
	req := tickets.IssueRequest{OrderID: o.ID, Buyer: buyer(o), Event: eventInfo(o)}
	for _, l := range lines {
		req.Lines = append(req.Lines, issueLine(l))
	}
	return req
}

func notice(kind notify.Kind, o Order, ts []tickets.Ticket) notify.Notice {
	snap := notify.OrderSnapshot{
		ID:         o.ID,
		Status:     string(o.Status),
		UserName:   o.UserName,
		UserPhone:  o.UserPhone,
		OutletName: o.Outlet.Name,
		EventName:  o.Event.Name,
		EventDate:  o.Event.Date,
		Venue:      o.Event.Venue,
		TotalPrice: o.TotalPrice,
	}
	if o.UserEmail != nil {
		snap.UserEmail = *o.UserEmail
	}
	for _, l := range o.Lines {
		snap.Lines = append(snap.Lines, notify.LineSnapshot{PassName: l.PassName, Quantity: l.Quantity, UnitPrice: l.UnitPrice})
	}

	n := notify.Notice{Kind: kind, Order: snap}
	for _, t := range ts {
		n.Tickets = append(n.Tickets, notify.TicketSnapshot{
			ID:          t.ID,
			OrderLineID: t.OrderLineID,
			SecureToken: t.SecureToken,
			QRCodeURL:   t.ArtifactURL,
		})
	}
	return n
}
